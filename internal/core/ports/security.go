package ports

// SecurityPort handles protection of sensitive fields at rest.
type SecurityPort interface {
	// Encrypt seals plaintext with AES-GCM. A random nonce makes the
	// output non-deterministic.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt opens a previously sealed ciphertext.
	Decrypt(ciphertext []byte) ([]byte, error)

	// Hash returns a deterministic keyed digest of the value, suitable for
	// equality lookups (the phone_hash column) without storing plaintext.
	Hash(value string) string
}
