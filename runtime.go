package main

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

const ortLibEnv = "ONNXRUNTIME_LIB"

// defaultSharedLibPath picks the onnxruntime library shipped for this
// platform. ONNXRUNTIME_LIB overrides it.
func defaultSharedLibPath() string {
	if p := os.Getenv(ortLibEnv); p != "" {
		return p
	}

	libName := "libonnxruntime.so.1.20.0"
	if runtime.GOOS == "darwin" {
		libName = "libonnxruntime.1.20.0.dylib"
	} else if runtime.GOOS == "windows" {
		libName = "onnxruntime.dll"
	}
	if runtime.GOOS != "windows" && runtime.GOARCH == "arm64" {
		libName = "arm64/" + libName
	}
	return "./lib/" + libName
}

// initRuntime loads the onnxruntime shared library. The returned func tears
// the environment down.
func initRuntime(libPath string) (func(), error) {
	if _, err := os.Stat(libPath); err != nil {
		return nil, fmt.Errorf("onnxruntime library: %w", err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return func() { ort.DestroyEnvironment() }, nil
}
