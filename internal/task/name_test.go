package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveName(t *testing.T) {
	tests := []struct {
		typeName string
		want     string
	}{
		{"PatchTask", "patch"},
		{"CleanTask", "clean"},
		{"OverwriteKeystoreTask", "overwrite_keystore"},
		{"SetExtendedMemoryLimitTask", "set_extended_memory_limit"},
		{"OptimizeImagesTask", "optimize_images"},
		{"NotarizeTask", "notarize"},
		{"Task", ""},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveName(tt.typeName))
		})
	}
}
