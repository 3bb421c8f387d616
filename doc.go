// Package main provides the go-ipabuild CLI, which archives and exports
// Xcode projects with manually resolved signing credentials.
//
// The building blocks are library packages:
//
//	import "github.com/aluedeke/go-ipabuild/pkg/provisioning" // profiles and matching
//	import "github.com/aluedeke/go-ipabuild/pkg/identity"     // trusted signing identities
//	import "github.com/aluedeke/go-ipabuild/pkg/xcodeproj"    // schemes and build settings
//	import "github.com/aluedeke/go-ipabuild/pkg/build"        // archive and export pipeline
//
// # Installation
//
//	go install github.com/aluedeke/go-ipabuild@latest
package main
