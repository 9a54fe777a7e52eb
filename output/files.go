package output

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"anacore/anp"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Renderer 可渲染到输出流的结果
type Renderer interface {
	Render(w io.Writer) error
}

// Multi 把点同时转发给多个输出
type Multi []anp.OutputMgr

// ReportPoint 依次转发，返回第一个错误
func (m Multi) ReportPoint(r anp.Report) error {
	var first error
	for _, o := range m {
		if err := o.ReportPoint(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReportFailures 依次转发
func (m Multi) ReportFailures(kind anp.Kind, outer int, failed []int) {
	for _, o := range m {
		o.ReportFailures(kind, outer, failed)
	}
}

// Files 记录的默认输出文件
// record.json、charts.html，format 非空时每条曲线一张图片
func Files(rec *Record, format string) map[string]Renderer {
	files := map[string]Renderer{
		"record.json": rec,
		"charts.html": Charts{Record: rec},
	}
	if format == "" {
		return files
	}
	for i := range rec.Curves {
		p := Plot{Record: rec, Curve: i, Format: format}
		files[p.Name()] = p
	}
	return files
}

// WriteFiles 并发写出文件，任一失败即取消其余
func WriteFiles(ctx context.Context, dir string, files map[string]Renderer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "创建输出目录失败")
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		name := name
		r := files[name]
		path := filepath.Join(dir, name)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return errors.Wrapf(writeFile(path, r), "写出 %s 失败", name)
		})
	}
	return g.Wait()
}

func writeFile(path string, r Renderer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return r.Render(f)
}
