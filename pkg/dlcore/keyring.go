package dlcore

import "github.com/zalando/go-keyring"

// service/account identify the single secret this package manages: the
// manual proxy's password. Settings.Proxy.Password is never persisted in
// the SQLite settings row or serialized over the wire (see model.go); it
// lives only in the OS keyring (macOS Keychain, Secret Service on Linux,
// Windows Credential Manager).
const (
	keyringService = "dlman"
	keyringAccount = "proxy-password"
)

// indirections so tests can stub the OS keyring without touching a real one.
var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// ErrNoProxyPassword is returned by LoadProxyPassword when nothing has been
// stored yet; callers should treat it the same as an empty password.
var ErrNoProxyPassword = keyring.ErrNotFound

// SaveProxyPassword stores password in the OS keyring, replacing any
// previously stored value. An empty password deletes the entry instead.
func SaveProxyPassword(password string) error {
	if password == "" {
		return ClearProxyPassword()
	}
	return keyringSet(keyringService, keyringAccount, password)
}

// LoadProxyPassword returns the password last saved with SaveProxyPassword,
// or ErrNoProxyPassword if none is set.
func LoadProxyPassword() (string, error) {
	return keyringGet(keyringService, keyringAccount)
}

// ClearProxyPassword removes any stored password. It is not an error to
// clear a password that was never set.
func ClearProxyPassword() error {
	err := keyringDelete(keyringService, keyringAccount)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}
