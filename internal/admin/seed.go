// Package admin provides the destructive operator tasks: seeding the profile
// store from a data file and confirming a statistics reset.
package admin

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
)

// ResetTimeout is the maximum duration for a seed or reset.
const ResetTimeout = 30 * time.Second

// ResetPhrase must be typed to confirm a reset.
const ResetPhrase = "reset"

// ErrNotConfirmed is returned when the operator declines a reset.
var ErrNotConfirmed = errors.New("reset not confirmed")

// DecodeSeed reads a data file: a JSON object mapping each profile key to
// its statistics. Profiles are returned in file order.
func DecodeSeed(r io.Reader) ([]core.PlayerProfile, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("seed must be a JSON object keyed by player")
	}

	var profiles []core.PlayerProfile
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read seed: %w", err)
		}
		key := tok.(string)

		var p core.PlayerProfile
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("player %q: %w", key, err)
		}
		p.Key = key
		if p.GamesPlayed == nil {
			p.GamesPlayed = []string{}
		}
		if p.NetHistory == nil {
			p.NetHistory = core.NetHistory{}
		}
		profiles = append(profiles, p)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	if len(profiles) == 0 {
		return nil, errors.New("seed has no players")
	}
	if err := core.ValidateSeed(profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LoadSeedFile decodes the data file at path.
func LoadSeedFile(path string) ([]core.PlayerProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

// ConfirmReset asks the operator to type ResetPhrase. Anything else is
// ErrNotConfirmed.
func ConfirmReset(in io.Reader, out io.Writer, players int) error {
	fmt.Fprintf(out, "This zeroes the statistics of %d players. Type %q to continue: ", players, ResetPhrase)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != ResetPhrase {
		return ErrNotConfirmed
	}
	return nil
}
