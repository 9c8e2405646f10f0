// Package auth validates bearer credentials presented by connecting clients.
// It verifies RS256-signed JWTs against a configured public key and expected
// audience, classifying failures into typed reasons for internal logging
// while the protocol boundary reports only a generic rejection.
package auth
