// Package provisioning resolves signing credentials from installed
// provisioning profiles.
//
// A profile is decoded from its CMS envelope, its distribution method is
// derived from entitlement flags, and its embedded developer certificates are
// cross-referenced against the digests of locally available signing
// identities.
//
// # Basic Usage
//
//	store := &provisioning.Store{}
//	profiles, err := store.Load(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	profile, err := provisioning.FindBestProfile(profiles, "com.example.app",
//	    provisioning.MethodAdHoc, provisioning.PlatformIOS)
//	certs := provisioning.ValidSigningCertificates(profile, trusted, time.Now())
package provisioning
