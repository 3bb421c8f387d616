// Package build drives xcodebuild through archive and export with signing
// credentials pinned to a resolved provisioning profile.
//
// # Basic Usage
//
//	o := &build.Orchestrator{
//	    Project:  project,
//	    Profiles: profiles,
//	    Trusted:  &identity.Keychain{},
//	    Runner:   &build.ShellRunner{},
//	    Writer:   build.PlistExportWriter{},
//	    BuildDir: "build",
//	}
//	res, err := o.Run(ctx, build.Request{Scheme: "MyApp", Method: provisioning.MethodAdHoc})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Artifact)
//
// # Pipeline
//
// Run moves through Idle, ParamsResolved, Archived, ExportPlistWritten,
// Exported and Done. Any failure moves to Failed and stops the build; the
// returned *Error carries the ErrorKind. Nothing is retried.
//
// A toolchain phase succeeds only when the command exits cleanly, prints its
// SUCCEEDED marker, never prints its FAILED marker, and leaves its output on
// disk.
package build
