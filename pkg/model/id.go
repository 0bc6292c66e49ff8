package model

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const deterministicIDLength = 40

var (
	ErrInvalidDocumentID = goerr.New("invalid document id")
	ErrInvalidImageID    = goerr.New("invalid image id")

	documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,40}$`)
	imageIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{10,40}$`)
)

// DeterministicID derives a stable id from input: the first 40 characters of
// the unpadded URL-safe base64 SHA-256 digest.
func DeterministicID(input string) string {
	sum := sha256.Sum256([]byte(input))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	return encoded[:deterministicIDLength]
}

// DocumentID identifies a source blob regardless of case and surrounding slashes
func DocumentID(blobName string) string {
	return DeterministicID(strings.ToLower(strings.Trim(blobName, "/")))
}

// ChunkID identifies the n-th (1-based) chunk of a blob
func ChunkID(blobName string, n int) string {
	return DocumentID(fmt.Sprintf("%s_chunk_%d", blobName, n))
}

// ImageID identifies the n-th (1-based) image of a document
func ImageID(docID string, n int) string {
	return DeterministicID(fmt.Sprintf("%s_img_%03d", docID, n))
}

// TraceID labels the n-th question/answer exchange of a session without
// exposing the session id
func TraceID(sessionID string, n int) string {
	return DeterministicID(fmt.Sprintf("%s_interaction_%04d", sessionID, n))
}

// ContentHash is the change-detection fingerprint of a blob
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func ValidateDocumentID(id string) error {
	if !documentIDPattern.MatchString(id) {
		return goerr.Wrap(ErrInvalidDocumentID, "malformed document id", goerr.V("id", id))
	}
	return nil
}

func ValidateImageID(id string) error {
	if !imageIDPattern.MatchString(id) {
		return goerr.Wrap(ErrInvalidImageID, "malformed image id", goerr.V("id", id))
	}
	return nil
}
