package remote

// KeychainAuthenticator defers to the system keychain (like Docker); the
// empty credentials it returns make the OCI layer fall back to
// authn.DefaultKeychain.
type KeychainAuthenticator struct{}

// NewKeychainAuthenticator creates the default authenticator.
func NewKeychainAuthenticator() *KeychainAuthenticator {
	return &KeychainAuthenticator{}
}

// Authenticate returns no explicit credentials.
func (a *KeychainAuthenticator) Authenticate(registry string) (string, string, error) {
	return "", "", nil
}
