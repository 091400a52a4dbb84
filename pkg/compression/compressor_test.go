package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleCSV = []byte(strings.Repeat("GENE_ID,GO_ID,EVIDENCE\nG1,GO0005515,IPI\n", 200))

func TestCompressor_RoundTrip(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		extension string
	}{
		{None, ""},
		{Gzip, ".gz"},
		{Zstd, ".zst"},
		{LZ4, ".lz4"},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: tt.algorithm, Level: Default})
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, comp.Algorithm())
			assert.Equal(t, tt.extension, comp.Extension())

			compressed, err := comp.Compress(sampleCSV)
			require.NoError(t, err)
			if tt.algorithm != None {
				assert.Less(t, len(compressed), len(sampleCSV))
			}

			restored, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, sampleCSV, restored)
		})
	}
}

func TestCompressor_Streams(t *testing.T) {
	for _, algorithm := range []Algorithm{Gzip, Zstd, LZ4} {
		t.Run(string(algorithm), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algorithm, Level: Fastest})
			require.NoError(t, err)

			var buf bytes.Buffer
			w, err := comp.NewWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(sampleCSV)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := comp.NewReader(&buf)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, sampleCSV, got)
		})
	}
}

func TestGzipWriterReuse(t *testing.T) {
	comp, err := NewCompressor(DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := comp.Compress([]byte("row"))
		require.NoError(t, err)
		back, err := comp.Decompress(out)
		require.NoError(t, err)
		assert.Equal(t, "row", string(back))
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Gzip, a)

	_, err = ParseAlgorithm("brotli")
	assert.Error(t, err)
}

func TestForExtension(t *testing.T) {
	a, ok := ForExtension(".gz")
	assert.True(t, ok)
	assert.Equal(t, Gzip, a)

	_, ok = ForExtension(".csv")
	assert.False(t, ok)
}

func TestNewCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor(&Config{Algorithm: "snappy"})
	assert.Error(t, err)
}
