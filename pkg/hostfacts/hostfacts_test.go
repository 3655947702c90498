package hostfacts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vmprovision/pkg/preflight"
)

var _ preflight.Facts = (*Collector)(nil)
var _ preflight.AccountSetter = (*Collector)(nil)

type fakeShell struct {
	outputs map[string]string
	err     error
	calls   []string
}

func (s *fakeShell) Run(_ context.Context, script string) (string, error) {
	s.calls = append(s.calls, script)
	return s.outputs[script], s.err
}

func TestParsePlatformVersion(t *testing.T) {
	tests := []struct {
		in, ver, build string
	}{
		{"10.0.22631 Build 22631", "10.0", "22631"},
		{"10.0.19045.4780 Build 19045.4780", "10.0", "19045"},
		{"10.0 Build 26100.1", "10.0", "26100"},
		{"6.1", "6.1", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		ver, build := ParsePlatformVersion(tt.in)
		assert.Equal(t, tt.ver, ver, tt.in)
		assert.Equal(t, tt.build, build, tt.in)
	}
}

func TestShellBackedFacts(t *testing.T) {
	shell := &fakeShell{outputs: map[string]string{
		"$PSVersionTable.PSVersion.ToString()": "5.1.22621.4391\n",
		"Get-ExecutionPolicy":                  " RemoteSigned ",
	}}
	c := &Collector{Shell: shell}

	v, err := c.PowerShellVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5.1.22621.4391", v)

	p, err := c.ExecutionPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RemoteSigned", p)

	require.NoError(t, c.DisablePasswordExpiry(context.Background(), "O'Neil"))
	assert.Equal(t, "Set-LocalUser -Name 'O''Neil' -PasswordNeverExpires $true", shell.calls[len(shell.calls)-1])

	shell.err = errors.New("boom")
	_, err = c.PowerShellVersion(context.Background())
	assert.Error(t, err)
}

func TestUsernamePrefersEnvironment(t *testing.T) {
	t.Setenv("USERNAME", "analyst")
	name, err := (&Collector{}).Username()
	require.NoError(t, err)
	assert.Equal(t, "analyst", name)
}

func TestProbeEndpoint(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	c := &Collector{ProbeTimeout: 5 * time.Second}
	assert.NoError(t, c.ProbeEndpoint(context.Background(), ok.URL))
	assert.Error(t, c.ProbeEndpoint(context.Background(), missing.URL))
	assert.Error(t, c.ProbeEndpoint(context.Background(), "not a url"))

	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	assert.Error(t, c.ProbeEndpoint(context.Background(), addr))
}
