// Package v1 provides the business logic behind API version 1: user
// accounts and sessions, the game catalog, and the upload pipeline.
//
// Error Handling:
// This package defines sentinel errors for every failure kind a handler must
// distinguish. Business logic wraps them with context using fmt.Errorf("%w").
// Errors raised by the storage, archive and build packages are re-exported
// here so handlers only ever check logicv1 errors.
//
// Example Usage:
//
//	if row == nil {
//	    return nil, fmt.Errorf("get views of %q: %w", name, ErrGameNotFound)
//	}
//
// Error Checking (in handlers):
//
//	switch {
//	case errors.Is(err, logicv1.ErrGameNotFound):
//	    c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
//	case errors.Is(err, logicv1.ErrDuplicateName):
//	    c.JSON(http.StatusConflict, gin.H{"error": "A game with this name already exists"})
//	default:
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
//	}
package v1

import (
	"errors"

	"github.com/duynhne/game-service/internal/archive"
	"github.com/duynhne/game-service/internal/build"
	"github.com/duynhne/game-service/internal/storage"
)

// Sentinel errors for account operations.
var (
	// ErrInvalidCredentials indicates the provided credentials are missing or incorrect.
	// HTTP Status: 401 Unauthorized
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates no account is registered with the email.
	// HTTP Status: 401 Unauthorized (don't reveal user existence)
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthorized indicates a request that needs a session carried none.
	// HTTP Status: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized access")

	// ErrUserExists indicates the email is already registered.
	// HTTP Status: 409 Conflict
	ErrUserExists = errors.New("user already exists")

	// ErrSessionNotFound indicates the session token does not exist.
	// HTTP Status: 401 Unauthorized
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session token has expired.
	// HTTP Status: 401 Unauthorized
	ErrSessionExpired = errors.New("session expired")
)

// Sentinel errors for catalog and upload operations.
var (
	// ErrInvalidInput indicates missing or malformed request fields.
	// HTTP Status: 400 Bad Request
	ErrInvalidInput = errors.New("invalid input")

	// ErrGameNotFound indicates no game matches the name.
	// HTTP Status: 404 Not Found
	ErrGameNotFound = errors.New("game not found")

	// ErrDuplicateName indicates the game name is already cataloged.
	// HTTP Status: 409 Conflict
	ErrDuplicateName = errors.New("duplicate game name")

	// HTTP Status: 400 Bad Request
	ErrInvalidArchive    = archive.ErrInvalidArchive
	ErrUnsafePath        = archive.ErrUnsafePath
	ErrArchiveTooLarge   = archive.ErrArchiveTooLarge
	ErrEntryPageNotFound = build.ErrEntryPageNotFound

	// ErrStorage indicates a filesystem failure while handling a build.
	// HTTP Status: 500 Internal Server Error
	ErrStorage = storage.ErrStorage
)
