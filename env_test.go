package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefaults(t *testing.T) {
	os.Unsetenv("PT_TEST_MISSING")
	assert.Equal(t, "fallback", getEnv("PT_TEST_MISSING", "fallback"))

	t.Setenv("PT_TEST_SET", "value")
	assert.Equal(t, "value", getEnv("PT_TEST_SET", "fallback"))

	t.Setenv("PT_TEST_BLANK", "   ")
	assert.Equal(t, "fallback", getEnv("PT_TEST_BLANK", "fallback"), "whitespace-only env counts as unset")
}

func TestGetEnvFloatInt(t *testing.T) {
	t.Setenv("PT_TEST_FLOAT", "3.25")
	assert.Equal(t, 3.25, getEnvFloat("PT_TEST_FLOAT", 1))

	t.Setenv("PT_TEST_FLOAT_BAD", "not-a-number")
	assert.Equal(t, 1.0, getEnvFloat("PT_TEST_FLOAT_BAD", 1))

	t.Setenv("PT_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("PT_TEST_INT", 7))
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"1": true, "true": true, "yes": true, "on": true, "0": false, "false": false, "no": false, "off": false}
	for raw, want := range cases {
		t.Setenv("PT_TEST_BOOL", raw)
		assert.Equal(t, want, getEnvBool("PT_TEST_BOOL", !want), "raw=%s", raw)
	}
	os.Unsetenv("PT_TEST_BOOL_MISSING")
	assert.True(t, getEnvBool("PT_TEST_BOOL_MISSING", true))
}

func TestReadCredentialFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cred.txt"
	require.NoError(t, os.WriteFile(path, []byte("  secret-value\n"), 0o644))
	assert.Equal(t, "secret-value", readCredentialFile(path))
	assert.Equal(t, "", readCredentialFile(dir+"/missing.txt"))
	assert.Equal(t, "", readCredentialFile(""))
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/.env"
	require.NoError(t, os.WriteFile(path, []byte("PT_TEST_DOTENV=fromfile\nPT_TEST_DOTENV_NEW=newval\n"), 0o644))

	t.Setenv("PT_TEST_DOTENV", "fromenv")
	os.Unsetenv("PT_TEST_DOTENV_NEW")

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "fromenv", os.Getenv("PT_TEST_DOTENV"))
	assert.Equal(t, "newval", os.Getenv("PT_TEST_DOTENV_NEW"))
}

func TestLoadDotEnvMissingFileIsNotError(t *testing.T) {
	assert.NoError(t, loadDotEnv("/nonexistent/path/.env"))
}
