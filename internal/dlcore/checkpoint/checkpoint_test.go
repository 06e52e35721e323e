package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin.dlmeta")
	rec := &Record{
		URL:         "https://example.com/file.bin",
		FileName:    "file.bin",
		SavePath:    "/downloads",
		TotalSize:   300,
		ThreadCount: 3,
		ExpectedMd5: "abc123",
		Segments: []SegmentRecord{
			{Start: 0, End: 99, Downloaded: 99},
			{Start: 100, End: 199, Downloaded: 50},
			{Start: 200, End: 299, Downloaded: 0},
		},
	}
	require.NoError(t, Save(path, rec))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.URL, loaded.URL)
	assert.Equal(t, rec.TotalSize, loaded.TotalSize)
	assert.Equal(t, rec.ThreadCount, loaded.ThreadCount)
	assert.Equal(t, rec.ExpectedMd5, loaded.ExpectedMd5)
	require.Len(t, loaded.Segments, 3)
	assert.Equal(t, rec.Segments[1].Downloaded, loaded.Segments[1].Downloaded)
}

func TestLoad_MissingFileReturnsNil(t *testing.T) {
	rec, err := Load(filepath.Join(t.TempDir(), "nope.dlmeta"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoad_SegmentCountOutOfRangeInvalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dlmeta")
	content := "[DLMETA]\nurl=x\nfilename=x\nsavepath=x\ntotalsize=10\nthreadcount=1\nsegments=17\nexpectedmd5=\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoad_UnknownKeysIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.dlmeta")
	content := "[DLMETA]\n" +
		"url=https://example.com/f\n" +
		"filename=f\n" +
		"savepath=/tmp\n" +
		"totalsize=10\n" +
		"threadcount=1\n" +
		"segments=1\n" +
		"expectedmd5=\n" +
		"seg0_start=0\n" +
		"seg0_end=9\n" +
		"seg0_downloaded=5\n" +
		"future_key=ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rec, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(5), rec.Segments[0].Downloaded)
}

func TestDelete_IgnoresMissingFile(t *testing.T) {
	err := Delete(filepath.Join(t.TempDir(), "nope.dlmeta"))
	assert.NoError(t, err)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "foo.bin.dlmeta", Path("foo.bin"))
}
