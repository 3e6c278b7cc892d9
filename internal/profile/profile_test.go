package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrgb-controller/internal/core"
)

func sample() core.EngineState {
	return core.EngineState{
		Effect:     core.EffectWave,
		Direction:  core.DirectionLeft,
		Brightness: 2,
		Speed:      3,
		Zones:      []core.RGB{core.Red, core.Green, core.Blue, {R: 0x12, G: 0x34, B: 0x56}},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := Open("file", filepath.Join(dir, "profiles"), "")
	require.NoError(t, err)
	db, err := Open("sqlite", "", filepath.Join(dir, "profiles.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		file.Close()
		db.Close()
	})
	return map[string]Store{"file": file, "sqlite": db}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("gaming", sample()))
			got, err := s.Load("gaming")
			require.NoError(t, err)
			assert.True(t, sample().Equal(got))

			next := sample()
			next.Brightness = 1
			require.NoError(t, s.Save("gaming", next))
			got, err = s.Load("gaming")
			require.NoError(t, err)
			assert.Equal(t, 1, got.Brightness)
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			list, err := s.List()
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, s.Save("work", sample()))
			require.NoError(t, s.Save(DefaultName, sample()))

			list, err = s.List()
			require.NoError(t, err)
			assert.Equal(t, []string{"default", "work"}, list)

			require.NoError(t, s.Delete("work"))
			assert.ErrorIs(t, s.Delete("work"), ErrNotFound)

			_, err = s.Load("work")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "  ", "../x", "a/b", ".hidden", "semi;colon"} {
				assert.ErrorIs(t, s.Save(bad, sample()), ErrInvalidName, bad)
			}
		})
	}
}

func TestFileStoreCorruptProfile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	_, err = s.Load("broken")
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "future.json"), []byte(`{"version": 9}`), 0o644))
	_, err = s.Load("future")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", "", "")
	assert.Error(t, err)
}
