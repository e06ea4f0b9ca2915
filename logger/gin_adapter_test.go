package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGinLogWriter_Write(t *testing.T) {
	InitManager(ManagerConfig{BaseLogDir: t.TempDir(), EnableFile: false})
	defer CloseAll()

	w := NewGinLogWriter("gin-test")
	for _, line := range []string{
		"[GIN-debug] GET /health --> handler",
		"[WARNING] Running in debug mode",
		"[Recovery] panic recovered",
		"plain",
		"   ",
	} {
		n, err := w.Write([]byte(line))
		assert.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
}
