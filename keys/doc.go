// Package keys manages the RSA signing key of a packaged extension.
//
// The key lives in a single unencrypted PEM file whose path is passed to every
// call. The file is created on first use and reused afterwards; its public
// half determines the extension identity (DeriveID, ExtensionID), so losing
// or regenerating it changes the extension as seen by browsers.
//
// Nothing here locks the key file. Callers serialize packaging runs that
// share a key path.
package keys
