package main

import "fmt"

const (
	MsgNoFace = "No faces detected"

	MsgSingleFace = "Detected 1 face"
)

func getDetectionMessage(faceCount int) string {
	switch {
	case faceCount == 0:
		return MsgNoFace
	case faceCount == 1:
		return MsgSingleFace
	default:
		return fmt.Sprintf("Detected %d faces", faceCount)
	}
}
