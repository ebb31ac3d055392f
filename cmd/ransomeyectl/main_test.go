package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_DefaultsToServerWithNoArgs(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()
	called := false
	startServer = func(stdout, stderr io.Writer) int {
		called = true
		return 0
	}

	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.True(t, called)
}

func TestRun_ServerSubcommandInvokesStub(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()
	called := false
	startServer = func(stdout, stderr io.Writer) int {
		called = true
		return 0
	}

	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl", "serve"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.True(t, called)
}

func TestRun_UnknownCommandReturnsExitCodeTwo(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl", "not-a-command"}, &out, &errOut)

	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestRun_HelpPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl", "help"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "ransomeyectl")
}

func TestRun_VersionPrintsBuildVersion(t *testing.T) {
	t.Setenv("VERSION", "1.2.3")
	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl", "version"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "1.2.3")
}

func TestRun_DoctorFailsClosedWithoutConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"ransomeyectl", "doctor"}, &out, &errOut)

	assert.Equal(t, 1, code)
}
