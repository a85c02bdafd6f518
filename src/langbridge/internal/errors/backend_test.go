package errors

import (
	stderr "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "resolution failure",
			err:  &ResolutionError{Family: "omnisharp", Reason: "executable not on PATH"},
		},
		{
			name: "backend unavailable",
			err:  &BackendUnavailableError{Command: "/autocomplete", Seq: 7},
		},
		{
			name: "correlation anomaly",
			err:  &CorrelationAnomaly{Command: "/typelookup", Seq: 9},
		},
		{
			name: "backend call failure",
			err:  &BackendCallError{Command: "/gotodefinition", Message: "no project loaded"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.err)
			assert.True(t, len(tt.err.Error()) > 0)
		})
	}
}

func TestBackendUnavailableAs(t *testing.T) {
	wrapped := fmt.Errorf("completion: %w", &BackendUnavailableError{Command: "/autocomplete", Seq: 12})

	var unavailable *BackendUnavailableError
	assert.True(t, stderr.As(wrapped, &unavailable))
	assert.Equal(t, "/autocomplete", unavailable.Command)
	assert.Equal(t, int64(12), unavailable.Seq)
}
