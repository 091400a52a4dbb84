package ncbi

import (
	"bufio"
	"context"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// TaxColumn is the organism column of every gene DATA file after the header
// is upper-cased.
const TaxColumn = "#TAX_ID"

// maxLine bounds one line of a bulk file; gene_info dbXrefs run long.
const maxLine = 16 * 1024 * 1024

// download streams <ftpURL>/<file> through gzip and keeps the rows whose
// first column is the configured organism. With an archive set, the
// compressed bytes are copied to <downloadDir>/<file> in the archive as they
// are read.
func (s *Source) download(ctx context.Context, name, file string) (*models.Table, error) {
	url := s.ftpURL + "/" + file
	resp, err := s.client.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if s.archive == nil || s.downloadDir == "" {
		t, err := ParseBulk(name, resp.Body, s.taxID)
		if err != nil {
			return nil, err
		}
		s.logDownload(name, url, t)
		return t, nil
	}

	key := path.Join(s.downloadDir, file)
	pr, pw := io.Pipe()
	archived := make(chan error, 1)
	go func() {
		err := s.archive.PutObject(ctx, key, pr)
		_ = pr.CloseWithError(err)
		archived <- err
	}()

	copyTo := &archiveWriter{w: pw}
	body := io.TeeReader(resp.Body, copyTo)
	t, err := ParseBulk(name, body, s.taxID)
	if err == nil {
		// gzip may stop short of trailing bytes; the archive keeps the whole file
		_, err = io.Copy(io.Discard, body)
	}
	_ = pw.CloseWithError(err)
	putErr := <-archived
	if copyTo.err != nil && putErr == nil {
		putErr = copyTo.err
	}
	if putErr != nil && (err == nil || copyTo.err != nil) {
		return nil, hgderrors.Wrap(putErr, hgderrors.ErrorTypeFile, "failed to archive bulk file").
			WithDetail("table", name).
			WithDetail("key", key)
	}
	if err != nil {
		return nil, err
	}
	s.logDownload(name, url, t)
	s.logger.Debug("archived bulk file", zap.String("table", name), zap.String("key", key))
	return t, nil
}

// archiveWriter remembers the first failed write so an archive failure is
// not reported as a broken download.
type archiveWriter struct {
	w   io.Writer
	err error
}

func (a *archiveWriter) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	if err != nil && a.err == nil {
		a.err = err
	}
	return n, err
}

func (s *Source) logDownload(name, url string, t *models.Table) {
	s.logger.Info("downloaded bulk file",
		zap.String("table", name),
		zap.String("url", url),
		zap.Int("rows", t.Len()))
}

// ParseBulk reads a gzip-compressed, tab-separated gene DATA file. The header
// row names the columns, upper-cased; rows for other organisms are skipped.
// An empty taxID keeps every row.
func ParseBulk(name string, r io.Reader, taxID string) (*models.Table, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "bulk file is not gzip").WithDetail("table", name)
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 1024*1024), maxLine)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, readError(name, err)
		}
		return models.NewTable(name), nil
	}
	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
	for i, col := range header {
		header[i] = strings.ToUpper(strings.TrimSpace(col))
	}

	t := models.NewTable(name, header...)
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if taxID != "" && !strings.HasPrefix(text, taxID+"\t") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			return nil, hgderrors.Newf(hgderrors.ErrorTypeData, "line %d has %d fields, header has %d", line, len(fields), len(header)).
				WithDetail("table", name)
		}
		row := make(models.Row, len(header))
		for i, col := range header {
			row[col] = fields[i]
		}
		t.Rows = append(t.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, readError(name, err)
	}
	return t, nil
}

func readError(name string, err error) error {
	return hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "failed to read bulk file").WithDetail("table", name)
}
