package horstbeacon

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/bwesterb/byteswriter"
	mmap "github.com/edsrzf/mmap-go"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/nightlyone/lockfile"
	"golang.org/x/sys/unix"
)

// stateHeader is the 3-section length-prefixed header spec.md §6 mandates:
// u64 LE rng_state_len, layers_len, pks_len, followed by the concatenated
// bodies.
type stateHeader struct {
	RngLen    uint64
	LayersLen uint64
	PksLen    uint64
}

const stateHeaderSize = 24

// Container owns the single-writer lock and atomic persistence for one
// endpoint's state file, grounded on the teacher's fsContainer
// (container.go: nightlyone/lockfile for exclusivity, an atomic
// write-tmpfile-then-rename-then-fsync-parent-dir durable write) and on
// original_source/src/block_signer.rs's store_state/load_state 3-section
// layout.
type Container struct {
	path string
	lock lockfile.Lockfile
}

// OpenContainer acquires an exclusive lock on path and returns a Container
// ready for Load/Save. The lock file is path + ".lock", same naming as the
// teacher's fsContainer.
func OpenContainer(path string) (*Container, error) {
	lock, err := lockfile.New(path + ".lock")
	if err != nil {
		return nil, wrapErrKindf(StateIoError, err, "creating lockfile for %s", path)
	}
	// TryLock treats a lock file naming this process as its own, so a
	// second open from the same process is refused here.
	if owner, err := lock.GetOwner(); err == nil && owner.Pid == os.Getpid() {
		return nil, errKindf(StateIoError, "state file %s is already locked by this process", path)
	}
	if err := lock.TryLock(); err != nil {
		return nil, wrapErrKindf(StateIoError, err, "locking state file %s", path)
	}
	return &Container{path: path, lock: lock}, nil
}

// Close releases the container's lock.
func (c *Container) Close() error {
	var result *multierror.Error
	if err := c.lock.Unlock(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Load reads and parses the state file, returning (nil, nil) if it does
// not yet exist (a fresh endpoint), per spec.md §4.C's "On startup the
// store tries to load the file; on success it resumes exactly; on absence
// it generates fresh state."
func (c *Container) Load(ctx *Context) (*LayeredKeyStore, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapErrKindf(StateIoError, err, "opening state file %s", c.path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, wrapErrKindf(StateIoError, err, "stat state file %s", c.path)
	}
	if info.Size() == 0 {
		return nil, nil
	}
	if info.Size() < stateHeaderSize {
		return nil, errKindf(StateIoError, "state file %s is shorter than its header", c.path)
	}

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, wrapErrKindf(StateIoError, err, "mmap state file %s", c.path)
	}
	defer func() {
		if uerr := region.Unmap(); uerr != nil {
			log.Logf("horstbeacon: failed to unmap state file %s: %v", c.path, uerr)
		}
	}()

	data := []byte(region)
	var hdr stateHeader
	hdr.RngLen = binary.LittleEndian.Uint64(data[0:8])
	hdr.LayersLen = binary.LittleEndian.Uint64(data[8:16])
	hdr.PksLen = binary.LittleEndian.Uint64(data[16:24])

	offset := uint64(stateHeaderSize)
	want := offset + hdr.RngLen + hdr.LayersLen + hdr.PksLen
	if want != uint64(len(data)) {
		return nil, errKindf(StateIoError, "state file %s length %d does not match header (want %d)", c.path, len(data), want)
	}

	rngBytes := data[offset : offset+hdr.RngLen]
	offset += hdr.RngLen
	layersBytes := data[offset : offset+hdr.LayersLen]
	offset += hdr.LayersLen
	pksBytes := data[offset : offset+hdr.PksLen]

	rng := &streamRNG{}
	if err := rng.UnmarshalBinary(rngBytes); err != nil {
		return nil, err
	}

	store, err := DecodeLayers(ctx, layersBytes)
	if err != nil {
		return nil, err
	}
	store.rng = rng

	if err := store.DecodePKs(ctx.Params.N, pksBytes); err != nil {
		return nil, err
	}

	return store, nil
}

// Save serializes rng (or store's own rng if rng is nil) and store to the
// state file atomically: write a temp file, fsync it, rename it over the
// real path, then fsync the parent directory, exactly as the teacher's
// writeKeyFile does.
func (c *Container) Save(rng *streamRNG, store *LayeredKeyStore) error {
	if rng == nil {
		rng = store.rng
	}
	rngBytes, err := rng.MarshalBinary()
	if err != nil {
		return wrapErrKindf(StateIoError, err, "marshaling rng state")
	}
	layersBytes := store.EncodeLayers()
	pksBytes := store.EncodePKs()

	headerBuf := make([]byte, stateHeaderSize)
	bufWriter := byteswriter.NewWriter(headerBuf)
	hdr := stateHeader{
		RngLen:    uint64(len(rngBytes)),
		LayersLen: uint64(len(layersBytes)),
		PksLen:    uint64(len(pksBytes)),
	}
	if err := binary.Write(bufWriter, binary.LittleEndian, &hdr); err != nil {
		return wrapErrKindf(StateIoError, err, "writing state header")
	}

	tmpPath := c.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return wrapErrKindf(StateIoError, err, "creating temporary state file")
	}

	for _, chunk := range [][]byte{headerBuf, rngBytes, layersBytes, pksBytes} {
		if _, err := tmpFile.Write(chunk); err != nil {
			tmpFile.Close()
			return wrapErrKindf(StateIoError, err, "writing temporary state file")
		}
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return wrapErrKindf(StateIoError, err, "syncing temporary state file")
	}
	if err := tmpFile.Close(); err != nil {
		return wrapErrKindf(StateIoError, err, "closing temporary state file")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return wrapErrKindf(StateIoError, err, "replacing state file")
	}

	dirName := filepath.Dir(c.path)
	dirFd, err := unix.Open(dirName, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return wrapErrKindf(StateIoError, err, "opening state directory %s", dirName)
	}
	var result *multierror.Error
	if err := unix.Fsync(dirFd); err != nil {
		result = multierror.Append(result, err)
	}
	if err := unix.Close(dirFd); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return wrapErrKindf(StateIoError, err, "syncing state directory %s", dirName)
	}

	return nil
}
