package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		disposition string
		want        string
	}{
		{`attachment; filename="diligence-report-p-1.pdf"`, "diligence-report-p-1.pdf"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{"attachment", "fallback.pdf"},
		{"", "fallback.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attachmentName(tt.disposition, "fallback.pdf"), tt.disposition)
	}
}
