// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz). It covers the subset a signal-extraction pipeline needs:
// 3D/4D volumes, the common datatypes, scl slope/intercept scaling, and
// the sform affine with a pixdim fallback.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cortical-data/seedsig/internal/volume"
)

// NIfTI-1 datatype codes.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
)

const (
	headerSize = 348
	voxOffset  = 352 // header + 4 byte extension flag
)

// FormatError reports a file that does not resolve to a loadable volume.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: not a loadable NIfTI volume: %s", e.Path, e.Reason)
}

// header is the fixed 348-byte NIfTI-1 header layout.
type header struct {
	SizeofHdr                    int32
	DataType                     [10]byte
	DBName                       [18]byte
	Extents                      int32
	SessionError                 int16
	Regular                      byte
	DimInfo                      byte
	Dim                          [8]int16
	IntentP1, IntentP2, IntentP3 float32
	IntentCode                   int16
	Datatype                     int16
	Bitpix                       int16
	SliceStart                   int16
	Pixdim                       [8]float32
	VoxOffset                    float32
	SclSlope                     float32
	SclInter                     float32
	SliceEnd                     int16
	SliceCode                    byte
	XyztUnits                    byte
	CalMax, CalMin               float32
	SliceDuration                float32
	Toffset                      float32
	Glmax, Glmin                 int32
	Descrip                      [80]byte
	AuxFile                      [24]byte
	QformCode                    int16
	SformCode                    int16
	QuaternB, QuaternC, QuaternD float32
	QoffsetX, QoffsetY, QoffsetZ float32
	SrowX                        [4]float32
	SrowY                        [4]float32
	SrowZ                        [4]float32
	IntentName                   [16]byte
	Magic                        [4]byte
}

// Load reads a .nii or .nii.gz file and returns its volume and affine.
// 3D images are promoted to 4D with a single timepoint. Returns a
// FormatError when the file is not a NIfTI volume this package can read.
func Load(path string) (*volume.Volume, volume.Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, volume.Affine{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("bad gzip stream: %v", err)}
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("short header: %v", err)}
	}

	// sizeof_hdr doubles as the endianness probe: 348 in the file's own
	// byte order.
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		if binary.BigEndian.Uint32(raw[:4]) != headerSize {
			return nil, volume.Affine{}, &FormatError{Path: path, Reason: "sizeof_hdr is not 348"}
		}
		order = binary.BigEndian
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("header decode: %v", err)}
	}
	if magic := string(hdr.Magic[:3]); magic != "n+1" && magic != "ni1" {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("bad magic %q", magic)}
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 4 {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("unsupported dimensionality %d", ndim)}
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	nt := 1
	if ndim == 4 {
		nt = int(hdr.Dim[4])
	}
	if nx <= 0 || ny <= 0 || nz <= 0 || nt <= 0 {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("bad dims (%d,%d,%d,%d)", nx, ny, nz, nt)}
	}

	// Skip anything between the header and the voxel data.
	skip := int64(hdr.VoxOffset) - headerSize
	if skip < 0 {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("vox_offset %g before header end", hdr.VoxOffset)}
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: fmt.Sprintf("seek to voxel data: %v", err)}
	}

	n := nx * ny * nz * nt
	data, err := readVoxels(r, order, int(hdr.Datatype), n)
	if err != nil {
		return nil, volume.Affine{}, &FormatError{Path: path, Reason: err.Error()}
	}

	// scl_slope of 0 means "no scaling" per the standard.
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	vol := &volume.Volume{NX: nx, NY: ny, NZ: nz, NT: nt, Data: data}
	return vol, affineFromHeader(&hdr), nil
}

// readVoxels decodes n voxels of the given datatype into float64s.
func readVoxels(r io.Reader, order binary.ByteOrder, datatype, n int) ([]float64, error) {
	data := make([]float64, n)
	switch datatype {
	case typeUint8:
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("short voxel data: %v", err)
		}
		for i, b := range buf {
			data[i] = float64(b)
		}
	case typeInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("short voxel data: %v", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeInt32:
		buf := make([]int32, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("short voxel data: %v", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("short voxel data: %v", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat64:
		if err := binary.Read(r, order, data); err != nil {
			return nil, fmt.Errorf("short voxel data: %v", err)
		}
	default:
		return nil, fmt.Errorf("unsupported datatype code %d", datatype)
	}
	return data, nil
}

// affineFromHeader prefers the sform rows; absent those it falls back to a
// diagonal affine built from pixdim.
func affineFromHeader(hdr *header) volume.Affine {
	if hdr.SformCode > 0 {
		var a volume.Affine
		for c := 0; c < 4; c++ {
			a[c] = float64(hdr.SrowX[c])
			a[4+c] = float64(hdr.SrowY[c])
			a[8+c] = float64(hdr.SrowZ[c])
		}
		a[15] = 1
		return a
	}
	sx, sy, sz := float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3])
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	if sz == 0 {
		sz = 1
	}
	return volume.Scaling(sx, sy, sz)
}

// Save writes the volume as a little-endian float32 .nii file (gzipped
// when the path ends in .gz), carrying the affine in the sform rows.
func Save(path string, vol *volume.Volume, affine volume.Affine) error {
	if err := vol.CheckShape(); err != nil {
		return err
	}

	hdr := header{
		SizeofHdr: headerSize,
		Datatype:  typeFloat32,
		Bitpix:    32,
		VoxOffset: voxOffset,
		SclSlope:  1,
		SformCode: 1,
		QformCode: 0,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 4
	hdr.Dim[1] = int16(vol.NX)
	hdr.Dim[2] = int16(vol.NY)
	hdr.Dim[3] = int16(vol.NZ)
	hdr.Dim[4] = int16(vol.NT)
	for i := 5; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	sizes := affine.VoxelSizes()
	hdr.Pixdim[0] = 1
	hdr.Pixdim[1] = float32(sizes[0])
	hdr.Pixdim[2] = float32(sizes[1])
	hdr.Pixdim[3] = float32(sizes[2])
	hdr.Pixdim[4] = 1
	for c := 0; c < 4; c++ {
		hdr.SrowX[c] = float32(affine[c])
		hdr.SrowY[c] = float32(affine[4+c])
		hdr.SrowZ[c] = float32(affine[8+c])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// 4-byte extension flag, all zero: no extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("write extension flag: %w", err)
	}

	buf := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		buf[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("write voxel data: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finish gzip stream: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("flush image: %w", err)
	}
	return nil
}

// File is an on-disk image handle: the path is resolved to a volume on
// demand, so a File can be constructed without touching the filesystem.
type File struct {
	Path string
}

// Volume loads the file's volume and affine.
func (f *File) Volume() (*volume.Volume, volume.Affine, error) {
	return Load(f.Path)
}
