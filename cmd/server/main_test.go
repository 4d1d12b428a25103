package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Wizard254-ux/gabbage-web-sub000/config"
)

func TestNewDirectory_WarnsWithoutURL(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	// GIVEN: No identity service configured
	dir := newDirectory(config.Config{}, zap.New(core))

	// THEN: There is no directory and startup says why lookups will be empty
	assert.Nil(t, dir)
	warnings := logs.FilterLevelExact(zap.WarnLevel).All()
	if assert.Len(t, warnings, 1) {
		assert.Contains(t, warnings[0].Message, "DIRECTORY_URL")
	}
}

func TestNewDirectory_UsesConfiguredService(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	dir := newDirectory(config.Config{
		DirectoryURL:       "http://identity.internal",
		RequestTimeout:     time.Second,
		DirectoryCacheSize: 16,
		DirectoryCacheTTL:  time.Minute,
	}, zap.New(core))

	assert.NotNil(t, dir)
	assert.Zero(t, logs.Len())
}
