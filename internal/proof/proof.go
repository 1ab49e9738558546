package proof

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Scheme identifies the attestation format. External verifiers match on it
// plus combined_hash.
const Scheme = "panther-proof-v1"

// Proof is a content-addressed attestation binding prompt, provider
// configuration, guidelines and results. combined_hash is the sole field
// used for equality in verification; timestamp_ms, sdk_version and
// salt_present are metadata outside the hash.
type Proof struct {
	Scheme         string `json:"scheme"`
	InputHash      string `json:"input_hash"`
	ResultsHash    string `json:"results_hash"`
	CombinedHash   string `json:"combined_hash"`
	GuidelinesHash string `json:"guidelines_hash"`
	ProvidersHash  string `json:"providers_hash"`
	TimestampMS    int64  `json:"timestamp_ms"`
	SDKVersion     string `json:"sdk_version"`
	SaltPresent    bool   `json:"salt_present"`
}

// Context carries proof metadata and the optional salt mixed into input_hash.
type Context struct {
	SDKVersion string
	Salt       *string
}

// Compute derives a deterministic proof. Repeated calls with identical
// inputs produce byte-identical hashes: there is no randomness or wall-clock
// dependence anywhere in the hash path.
func Compute(prompt, providersJSON, guidelinesJSON, resultsJSON string, ctx Context) (Proof, error) {
	providers := parseOrNull(providersJSON)
	guidelines := parseOrNull(guidelinesJSON)
	results := parseOrNull(resultsJSON)

	providersHash, err := hashValue(providers)
	if err != nil {
		return Proof{}, fmt.Errorf("hash providers: %w", err)
	}
	guidelinesHash, err := hashValue(guidelines)
	if err != nil {
		return Proof{}, fmt.Errorf("hash guidelines: %w", err)
	}
	resultsHash, err := hashValue(results)
	if err != nil {
		return Proof{}, fmt.Errorf("hash results: %w", err)
	}

	var salt any
	if ctx.Salt != nil {
		salt = *ctx.Salt
	}
	inputHash, err := hashValue(map[string]any{
		"prompt":     prompt,
		"providers":  providers,
		"guidelines": guidelines,
		"salt":       salt,
	})
	if err != nil {
		return Proof{}, fmt.Errorf("hash input bundle: %w", err)
	}

	// Concatenation is over the hex string encodings, not raw digest bytes.
	combined := sha3.Sum512([]byte(inputHash + resultsHash))

	return Proof{
		Scheme:         Scheme,
		InputHash:      inputHash,
		ResultsHash:    resultsHash,
		CombinedHash:   hex.EncodeToString(combined[:]),
		GuidelinesHash: guidelinesHash,
		ProvidersHash:  providersHash,
		TimestampMS:    time.Now().UnixMilli(),
		SDKVersion:     ctx.SDKVersion,
		SaltPresent:    ctx.Salt != nil,
	}, nil
}

// VerifyLocal recomputes a proof over the supplied material and reports
// whether combined_hash matches. The sdk_version is taken from the proof
// under test and is not independently authenticated; neither are
// timestamp_ms or salt_present, which sit outside the hash.
func VerifyLocal(p Proof, prompt, providersJSON, guidelinesJSON, resultsJSON string, salt *string) bool {
	recomputed, err := Compute(prompt, providersJSON, guidelinesJSON, resultsJSON, Context{
		SDKVersion: p.SDKVersion,
		Salt:       salt,
	})
	if err != nil {
		return false
	}
	return recomputed.CombinedHash == p.CombinedHash
}

func hashValue(value any) (string, error) {
	data, err := canonicalJSON(value)
	if err != nil {
		return "", err
	}
	sum := sha3.Sum512(data)
	return hex.EncodeToString(sum[:]), nil
}
