package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/entrypoint"
)

func TestFlagArgs(t *testing.T) {
	fs := flag.NewFlagSet("cozmonaut", flag.ContinueOnError)
	fs.String("sql-addr", "", "")
	fs.String("sql-data", "", "")
	fs.String("friend-id", "", "")
	fs.String("listen", "", "")
	fs.Bool("simulate", false, "")
	fs.Bool("version", false, "")

	require.NoError(t, fs.Parse([]string{"--sql-addr", "/data", "--friend-id=4", "--simulate", "--version", "interact"}))

	assert.Equal(t, entrypoint.Args{
		"sql_addr":  "/data",
		"friend_id": "4",
		"simulate":  "true",
	}, flagArgs(fs))
	assert.Equal(t, []string{"interact"}, fs.Args())
}

func TestFlagsDefined(t *testing.T) {
	for _, name := range []string{"config", "sql-addr", "sql-user", "sql-pass", "sql-data", "friend-id", "name", "listen", "simulate", "version"} {
		assert.NotNil(t, flag.Lookup(name), name)
	}
	assert.False(t, *simulate)
	assert.Empty(t, *listen)
}
