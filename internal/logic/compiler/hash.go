package compiler

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
)

const (
	configHashPrefix = "config"
	configHashLen    = 8
)

// volatileFields never participate in the config hash. Replicas change
// under autoscaling without requiring a rollout.
var volatileFields = []string{"replicas"}

// ConfigHash fingerprints a manifest together with the versions of the
// secrets it consumes. Changing a secret fingerprint or forceBounce changes
// the hash, changing the replica count does not.
func ConfigHash(m *Manifest, secretFingerprints map[string]string, forceBounce string) (string, error) {
	raw, err := json.Marshal(m.Object())
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	return HashJSON(raw, secretFingerprints, forceBounce)
}

// HashJSON hashes a serialized manifest. Key order in raw does not matter.
func HashJSON(raw []byte, secretFingerprints map[string]string, forceBounce string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("decode manifest: %w", err)
	}

	stripVolatile(doc)

	secrets := make(map[string]string, len(secretFingerprints))
	maps.Copy(secrets, secretFingerprints)
	doc["secrets"] = secrets

	// encoding/json writes map keys sorted, which makes the output canonical.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode canonical manifest: %w", err)
	}

	h := md5.New() //nolint:gosec // content addressing, not security
	h.Write(canonical)
	h.Write([]byte(forceBounce))

	return configHashPrefix + hex.EncodeToString(h.Sum(nil))[:configHashLen], nil
}

func stripVolatile(doc map[string]any) {
	delete(doc, "status")

	for _, field := range volatileFields {
		delete(doc, field)
	}

	spec, _ := doc["spec"].(map[string]any)
	for _, field := range volatileFields {
		delete(spec, field)
	}

	deleteLabel(doc)

	if tmpl, ok := spec["template"].(map[string]any); ok {
		deleteLabel(tmpl)
	}
}

// deleteLabel drops the config hash label so that hashing a labelled
// manifest reproduces its own label.
func deleteLabel(obj map[string]any) {
	meta, _ := obj["metadata"].(map[string]any)
	labels, _ := meta["labels"].(map[string]any)
	delete(labels, LabelConfigSHA)
}
