package target

import "os"

// FileDelivery implements SampleDelivery by writing the sample to a fixed
// path, the file-drop half of -delivery file|shmem. The path is typically
// a per-thread input file whose name was substituted for the "@@" token in
// the target command line.
type FileDelivery struct {
	Path string
	Perm os.FileMode
}

// NewFileDelivery returns a FileDelivery writing to path with mode 0644.
func NewFileDelivery(path string) *FileDelivery {
	return &FileDelivery{Path: path, Perm: 0o644}
}

func (d *FileDelivery) Deliver(sample []byte) error {
	perm := d.Perm
	if perm == 0 {
		perm = 0o644
	}
	return os.WriteFile(d.Path, sample, perm)
}
