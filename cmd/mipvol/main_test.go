package main

import (
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoCommandHelp(t *testing.T) {
	saved := flag.Usage
	defer func() { flag.Usage = saved }()
	var shown int
	flag.Usage = func() { shown++ }

	require.NoError(t, DoCommand(context.Background(), []string{"help"}))
	assert.Equal(t, 1, shown)

	err := DoCommand(context.Background(), []string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mipvol help")

	assert.Error(t, DoCommand(context.Background(), nil))
}
