package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath, nil)

	methods, err := BuildAuthMethods(&SSHConfig{KeyPath: keyPath}, failPrompt(t))
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestBuildAuthMethods_EncryptedKeyPrompts(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_enc")
	writeTestKey(t, keyPath, []byte("s3cret"))

	var asked string
	prompt := func(label string) ([]byte, error) {
		asked = label
		return []byte("s3cret"), nil
	}

	methods, err := BuildAuthMethods(&SSHConfig{KeyPath: keyPath}, prompt)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
	assert.Contains(t, asked, keyPath)
}

func TestBuildAuthMethods_WrongPassphrase(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_enc")
	writeTestKey(t, keyPath, []byte("s3cret"))

	prompt := func(string) ([]byte, error) { return []byte("nope"), nil }
	_, err := BuildAuthMethods(&SSHConfig{KeyPath: keyPath}, prompt)
	assert.Error(t, err)
}

func TestBuildAuthMethods_MissingKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := BuildAuthMethods(&SSHConfig{KeyPath: "/nonexistent/key"}, failPrompt(t))
	assert.Error(t, err)
}

func TestBuildAuthMethods_AgentWithoutSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := BuildAuthMethods(&SSHConfig{UseAgent: true}, failPrompt(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH_AUTH_SOCK")
}

func TestBuildAuthMethods_Password(t *testing.T) {
	var asked string
	prompt := func(label string) ([]byte, error) {
		asked = label
		return []byte("hunter2"), nil
	}

	cfg := &SSHConfig{User: "alice", Host: "gw.example.com", PromptPass: true}
	methods, err := BuildAuthMethods(cfg, prompt)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
	assert.Equal(t, "alice@gw.example.com's password: ", asked)
}

func TestBuildAuthMethods_PasswordPromptFails(t *testing.T) {
	prompt := func(string) ([]byte, error) { return nil, errors.New("no tty") }

	_, err := BuildAuthMethods(&SSHConfig{PromptPass: true}, prompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tty")
}

func TestBuildAuthMethods_NothingAvailable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("HOME", t.TempDir())

	_, err := BuildAuthMethods(&SSHConfig{}, failPrompt(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ssh-key")
}

func TestHostKeyCallback_Insecure(t *testing.T) {
	cb, err := hostKeyCallback(&SSHConfig{StrictHostKey: false})
	require.NoError(t, err)
	require.NotNil(t, cb)

	assert.NoError(t, cb("anything:22", &net.TCPAddr{}, testPublicKey(t)))
}

func TestHostKeyCallback_Strict(t *testing.T) {
	known := testPublicKey(t)
	other := testPublicKey(t)

	khFile := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"gw.example.com"}, known) + "\n"
	require.NoError(t, os.WriteFile(khFile, []byte(line), 0o600))

	cb, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: khFile})
	require.NoError(t, err)

	remote := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 22}
	assert.NoError(t, cb("gw.example.com:22", remote, known))
	assert.Error(t, cb("gw.example.com:22", remote, other))
}

func TestHostKeyCallback_MissingKnownHosts(t *testing.T) {
	cfg := &SSHConfig{StrictHostKey: true, KnownHosts: "/nonexistent/known_hosts"}
	_, err := hostKeyCallback(cfg)
	assert.Error(t, err)
}

// ── helpers ──────────────────────────────────────────────────────────

func failPrompt(t *testing.T) Prompter {
	return func(label string) ([]byte, error) {
		t.Errorf("unexpected prompt %q", label)
		return nil, errors.New("unexpected prompt")
	}
}

func testPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

// writeTestKey writes a fresh ed25519 key in OpenSSH format, encrypted
// when passphrase is non-nil.
func writeTestKey(t *testing.T, path string, passphrase []byte) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == nil {
		block, err = ssh.MarshalPrivateKey(priv, "test@capsd")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test@capsd", passphrase)
	}
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
}
