package monitoring

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogf(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogf(t)
	Logf("battery %.1fV", 3.7)
	assert.Equal(t, []string{"battery 3.7V"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped") })
	assert.Len(t, *lines, 1)
}

func TestPrefixed_FollowsCurrentLogger(t *testing.T) {
	logf := Prefixed(RobotPrefix(5))
	lines := captureLogf(t)

	logf("lost track %d", 2)
	assert.Equal(t, []string{"[robot 5] lost track 2"}, *lines)
}

func TestSetOutput(t *testing.T) {
	assert.NoError(t, SetOutput("", LogFileOptions{}).Close())

	prevOut, prevFlags := log.Writer(), log.Flags()
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	log.SetFlags(0)

	path := filepath.Join(t.TempDir(), "logs", "cozmonaut.log")
	closer := SetOutput(path, LogFileOptions{})
	log.Print("robot connected")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "robot connected\n", string(data))
}
