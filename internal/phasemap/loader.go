package phasemap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/sbinet/npyio"
)

// Source identifies a pair of phase-map files on disk.
type Source struct {
	Dir        string
	Telescope  interferometer.TelescopeClass
	Resolution string
	Smoothing  int
	// Year selects the 2020 map variant; any other value uses the default maps.
	Year int
}

// Paths returns the coupling and denominator file paths.
func (s Source) Paths() (string, string) {
	base := fmt.Sprintf("Phasemap_%s_%s_Smooth%d", s.Telescope, strings.ToUpper(s.Resolution), s.Smoothing)
	if s.Year == 2020 {
		base += "_2020data"
	}
	return filepath.Join(s.Dir, base+".npy"), filepath.Join(s.Dir, base+"_denom.npy")
}

// Load reads the maps named by src.
func Load(src Source) (*Grid, error) {
	coupling, denom := src.Paths()
	return LoadFiles(coupling, denom)
}

// LoadFiles reads a complex coupling map and its denominator from .npy files
// of shape (channels, 4, N, N).
func LoadFiles(couplingPath, denomPath string) (*Grid, error) {
	cshape, craw, err := readArray(couplingPath)
	if err != nil {
		return nil, err
	}
	dshape, draw, err := readArray(denomPath)
	if err != nil {
		return nil, err
	}

	if len(cshape) != 4 || cshape[1] != interferometer.NumTelescopes || cshape[2] != cshape[3] {
		return nil, fiterr.Mismatch("phasemap.LoadFiles", "%s has shape %v, want (channels, 4, N, N)", couplingPath, cshape)
	}
	if fmt.Sprint(cshape) != fmt.Sprint(dshape) {
		return nil, fiterr.Mismatch("phasemap.LoadFiles", "denominator shape %v differs from coupling shape %v", dshape, cshape)
	}

	denom := make([]float64, len(draw))
	for i, v := range draw {
		denom[i] = real(v)
	}
	return NewGrid(cshape[0], cshape[2], craw, denom)
}

// readArray reads a real or complex C-ordered array as complex values.
func readArray(path string) ([]int, []complex128, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fiterr.Missing("phasemap.Load", path, err)
		}
		return nil, nil, fmt.Errorf("open phase map: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s header: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		return nil, nil, fiterr.Invalid("phasemap.Load", "%s is Fortran ordered", path)
	}
	shape := r.Header.Descr.Shape

	if strings.Contains(r.Header.Descr.Type, "c") {
		var data []complex128
		if err := r.Read(&data); err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		return shape, data, nil
	}

	var data []float64
	if err := r.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]complex128, len(data))
	for i, v := range data {
		out[i] = complex(v, 0)
	}
	return shape, out, nil
}
