package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	enclaveapi "github.com/cloudx-io/openbid/enclaveapi"
)

// DefaultPCRConfigPath returns the path of the pcrs.json shipped next
// to this source file. Deployments pass their own path instead.
func DefaultPCRConfigPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "pcrs.json")
}

// LoadPCRsFromFile reads the known-good enclave measurements from a
// JSON config file. An empty set is an error: validating against no
// measurements would pass nothing.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}
	return config.PCRSets, nil
}

// matches compares the measurements that identify an enclave image.
// PCR0-2 cover the image, kernel, and application; the instance-bound
// registers vary per deployment and are not pinned.
func (s PCRSet) matches(pcrs enclaveapi.PCRs) bool {
	return pcrs.ImageFileHash == s.PCR0 &&
		pcrs.KernelHash == s.PCR1 &&
		pcrs.ApplicationHash == s.PCR2
}

// ValidatePCRs reports whether the attested PCRs match any known-good
// set, and which one. No match returns (false, -1).
func ValidatePCRs(pcrs enclaveapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if knownSet.matches(pcrs) {
			return true, i
		}
	}
	return false, -1
}
