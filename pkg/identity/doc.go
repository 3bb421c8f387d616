// Package identity reports which code signing certificates have a usable
// private key on this machine.
//
// Each source returns a provisioning.DigestSet keyed by the SHA-1 of the
// certificate DER bytes, the same key `security find-identity` prints:
//
//	keychain := &identity.Keychain{}
//	trusted, err := keychain.TrustedDigests(ctx)
//
// PKCS12Store reads exported .p12 files instead, which is what CI machines
// without a login keychain usually have.
package identity
