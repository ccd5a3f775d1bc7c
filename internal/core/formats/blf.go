package formats

// blf.go decodes the binary container log format.
//
// A file starts with a "LOGG" header followed by "LOBJ" objects. CAN
// traffic lives inside log container objects whose payload is stored raw
// or zlib-compressed; the payload is itself a sequence of "LOBJ" objects.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/canview/internal/core"
	"github.com/klauspost/compress/zlib"
)

const (
	blfFileHeaderSize      = 72
	blfObjHeaderBaseSize   = 16
	blfObjHeaderV1Size     = 16
	blfObjHeaderV2Size     = 24
	blfContainerHeaderSize = 16

	blfCANMessage       = 1
	blfLogContainer     = 10
	blfCANErrorExt      = 73
	blfCANMessage2      = 86
	blfCANFDMessage     = 100
	blfCANFDMessage64   = 101
	blfNoCompression    = 0
	blfZlibDeflate      = 2
	blfTimeTenMicros    = 1
	blfCANMsgExt        = 0x80000000
	blfRemoteFlag       = 0x80
	blfDirFlag          = 0x1
	blfFDEDL            = 0x1
	blfFDBRS            = 0x2
	blfFDESI            = 0x4
	blfFD64Remote       = 0x0010
	blfFD64EDL          = 0x1000
	blfFD64BRS          = 0x2000
	blfFD64ESI          = 0x4000
	blfCANMessageSize   = 16
	blfCANErrorExtSize  = 32
	blfCANFDMessageSize = 84
	blfCANFD64Size      = 40
)

var (
	blfFileSignature = []byte("LOGG")
	blfObjSignature  = []byte("LOBJ")
)

// systemTime is the [year, month, dayOfWeek, day, hour, minute, second,
// millisecond] array of the file header.
type systemTime [8]uint16

// Time interprets the system time as local wall-clock time.
func (st systemTime) Time() time.Time {
	if st[0] == 0 {
		return time.Time{}
	}
	return time.Date(int(st[0]), time.Month(st[1]), int(st[3]),
		int(st[4]), int(st[5]), int(st[6]), int(st[7])*int(time.Millisecond), time.Local)
}

type blfFileHeader struct {
	HeaderSize       uint32
	Application      [8]byte
	FileSize         uint64
	UncompressedSize uint64
	ObjectCount      uint32
	ObjectsRead      uint32
	Start            systemTime
	Stop             systemTime
}

type blfObjectHeader struct {
	HeaderSize    uint16
	HeaderVersion uint16
	ObjectSize    uint32
	ObjectType    uint32
}

func parseBLFFileHeader(data []byte) (blfFileHeader, error) {
	var hdr blfFileHeader
	if len(data) < blfFileHeaderSize {
		return hdr, fmt.Errorf("%w: file header needs %d bytes, have %d", core.ErrTruncated, blfFileHeaderSize, len(data))
	}
	if !bytes.Equal(data[0:4], blfFileSignature) {
		return hdr, fmt.Errorf("%w: %q", core.ErrBadSignature, data[0:4])
	}
	hdr.HeaderSize = binary.LittleEndian.Uint32(data[4:8])
	copy(hdr.Application[:], data[8:16])
	hdr.FileSize = binary.LittleEndian.Uint64(data[16:24])
	hdr.UncompressedSize = binary.LittleEndian.Uint64(data[24:32])
	hdr.ObjectCount = binary.LittleEndian.Uint32(data[32:36])
	hdr.ObjectsRead = binary.LittleEndian.Uint32(data[36:40])
	for i := 0; i < 8; i++ {
		hdr.Start[i] = binary.LittleEndian.Uint16(data[40+2*i:])
		hdr.Stop[i] = binary.LittleEndian.Uint16(data[56+2*i:])
	}
	if hdr.HeaderSize < blfFileHeaderSize {
		hdr.HeaderSize = blfFileHeaderSize
	}
	return hdr, nil
}

func parseBLFObjectHeader(data []byte, pos int) (blfObjectHeader, error) {
	var oh blfObjectHeader
	if pos+blfObjHeaderBaseSize > len(data) {
		return oh, core.ErrTruncated
	}
	if !bytes.Equal(data[pos:pos+4], blfObjSignature) {
		return oh, fmt.Errorf("%w: %q", core.ErrBadSignature, data[pos:pos+4])
	}
	oh.HeaderSize = binary.LittleEndian.Uint16(data[pos+4:])
	oh.HeaderVersion = binary.LittleEndian.Uint16(data[pos+6:])
	oh.ObjectSize = binary.LittleEndian.Uint32(data[pos+8:])
	oh.ObjectType = binary.LittleEndian.Uint32(data[pos+12:])
	if oh.ObjectSize < blfObjHeaderBaseSize {
		return oh, fmt.Errorf("%w: object size %d", core.ErrUnsupportedData, oh.ObjectSize)
	}
	return oh, nil
}

// BLFDecoder decodes binary container logs. By default only the first log
// container is decoded; AllContainers decodes every container in file order.
type BLFDecoder struct {
	AllContainers bool
}

func blfError(kind core.ErrorKind, offset int, err error) error {
	return &core.DecodeError{Format: "blf", Kind: kind, Offset: int64(offset), Err: err}
}

// DecodeTrace implements core.TraceDecoder.
func (d BLFDecoder) DecodeTrace(data []byte) (*core.Trace, error) {
	trace := &core.Trace{Format: "blf", Frames: make([]core.Frame, 0)}

	hdr, err := parseBLFFileHeader(data)
	if err != nil {
		return trace, blfError(core.KindStructural, 0, err)
	}
	trace.Start = hdr.Start.Time()
	var start float64
	if !trace.Start.IsZero() {
		start = float64(trace.Start.UnixNano()) / 1e9
	}

	var (
		pos        = int(hdr.HeaderSize)
		containers int
		ignored    int
		tail       []byte
	)
	for pos+blfObjHeaderBaseSize <= len(data) {
		oh, err := parseBLFObjectHeader(data, pos)
		if err != nil {
			return trace, blfError(core.KindStructural, pos, err)
		}
		end := pos + int(oh.ObjectSize)
		if end > len(data) {
			return trace, blfError(core.KindStructural, pos,
				fmt.Errorf("%w: object of %d bytes at end of file", core.ErrTruncated, oh.ObjectSize))
		}

		if oh.ObjectType != blfLogContainer {
			slog.Debug("blf: skipping top-level object", "type", oh.ObjectType, "offset", pos)
		} else {
			containers++
			if containers > 1 && !d.AllContainers {
				ignored++
			} else {
				payload, err := containerPayload(data[pos+blfObjHeaderBaseSize : end])
				if err != nil {
					return trace, blfError(kindOf(err), pos, err)
				}
				if len(tail) > 0 {
					payload = append(tail, payload...)
				}
				it := NewBLFIterator(payload, start)
				for it.Next() {
					trace.Frames = append(trace.Frames, it.Frame())
				}
				if err := it.Err(); err != nil {
					return trace, err
				}
				tail = append([]byte(nil), it.Remaining()...)
			}
		}

		pos = end + int(oh.ObjectSize%4)
	}

	if ignored > 0 {
		slog.Warn("blf: additional containers ignored",
			"decoded", 1,
			"ignored", ignored,
			"frames", len(trace.Frames),
		)
	}
	return trace, nil
}

func kindOf(err error) core.ErrorKind {
	if errors.Is(err, core.ErrUnsupportedData) {
		return core.KindUnsupported
	}
	return core.KindStructural
}

// containerPayload returns the inner object stream of a log container body.
func containerPayload(body []byte) ([]byte, error) {
	if len(body) < blfContainerHeaderSize {
		return nil, fmt.Errorf("%w: container header", core.ErrTruncated)
	}
	method := binary.LittleEndian.Uint16(body[0:2])
	size := binary.LittleEndian.Uint32(body[8:12])
	payload := body[blfContainerHeaderSize:]

	switch method {
	case blfNoCompression:
		return payload, nil
	case blfZlibDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", core.ErrTruncated, err)
		}
		defer zr.Close()

		var buf bytes.Buffer
		buf.Grow(int(size))
		if _, err := io.Copy(&buf, zr); err != nil {
			return nil, fmt.Errorf("%w: inflate: %v", core.ErrTruncated, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: compression method %d", core.ErrUnsupportedData, method)
	}
}

// BLFIterator walks the objects of one container payload. It only moves
// forward, cannot be rewound and may be abandoned at any point.
type BLFIterator struct {
	data  []byte
	pos   int
	start float64

	frame core.Frame
	err   error
	done  bool
	rest  int
}

// NewBLFIterator creates an iterator over a decompressed container payload.
// start is the absolute time, in seconds, object timestamps are relative to.
func NewBLFIterator(payload []byte, start float64) *BLFIterator {
	return &BLFIterator{data: payload, start: start, rest: len(payload)}
}

// Next advances to the next decoded frame. It returns false at the end of
// the payload or on a structural error, reported by Err.
func (it *BLFIterator) Next() bool {
	for !it.done {
		if it.pos+len(blfObjSignature) > len(it.data) {
			return it.finish(it.pos)
		}
		if !bytes.Equal(it.data[it.pos:it.pos+4], blfObjSignature) {
			idx := bytes.Index(it.data[it.pos:], blfObjSignature)
			if idx < 0 {
				return it.finish(len(it.data))
			}
			it.pos += idx
		}

		pos := it.pos
		if pos+blfObjHeaderBaseSize > len(it.data) {
			return it.finish(pos)
		}
		oh, err := parseBLFObjectHeader(it.data, pos)
		if err != nil {
			it.err = blfError(core.KindStructural, pos, err)
			return it.finish(pos)
		}
		next := pos + int(oh.ObjectSize)
		if next > len(it.data) {
			// Incomplete object: continues in the next container.
			return it.finish(pos)
		}

		p := pos + blfObjHeaderBaseSize
		var (
			flags uint32
			raw   uint64
		)
		switch oh.HeaderVersion {
		case 1:
			if p+blfObjHeaderV1Size > next {
				it.err = blfError(core.KindStructural, pos, fmt.Errorf("%w: v1 object header", core.ErrTruncated))
				return it.finish(pos)
			}
			flags = binary.LittleEndian.Uint32(it.data[p:])
			raw = binary.LittleEndian.Uint64(it.data[p+8:])
			p += blfObjHeaderV1Size
		case 2:
			if p+blfObjHeaderV2Size > next {
				it.err = blfError(core.KindStructural, pos, fmt.Errorf("%w: v2 object header", core.ErrTruncated))
				return it.finish(pos)
			}
			flags = binary.LittleEndian.Uint32(it.data[p:])
			raw = binary.LittleEndian.Uint64(it.data[p+8:])
			p += blfObjHeaderV2Size
		default:
			slog.Debug("blf: skipping object with unknown header version",
				"version", oh.HeaderVersion, "offset", pos)
			it.pos = next
			continue
		}

		factor := 1e-9
		if flags == blfTimeTenMicros {
			factor = 1e-5
		}
		timestamp := float64(raw)*factor + it.start

		frame, ok, err := decodeBLFObject(oh.ObjectType, it.data[p:next], timestamp)
		it.pos = next
		if err != nil {
			it.err = blfError(core.KindStructural, pos, err)
			return it.finish(pos)
		}
		if ok {
			it.frame = frame
			return true
		}
	}
	return false
}

func (it *BLFIterator) finish(rest int) bool {
	it.done = true
	it.rest = rest
	return false
}

// Frame returns the frame decoded by the last successful Next.
func (it *BLFIterator) Frame() core.Frame {
	return it.frame
}

// Err returns the structural error that stopped the iterator, if any.
func (it *BLFIterator) Err() error {
	return it.err
}

// Remaining returns the bytes of an object left incomplete at the end of
// the payload. Only meaningful once Next has returned false.
func (it *BLFIterator) Remaining() []byte {
	if it.err != nil || it.rest >= len(it.data) {
		return nil
	}
	return it.data[it.rest:]
}

// decodeBLFObject decodes the body of one inner object. ok is false for
// object types that carry no frame.
func decodeBLFObject(objType uint32, body []byte, timestamp float64) (core.Frame, bool, error) {
	switch objType {
	case blfCANMessage, blfCANMessage2:
		if len(body) < blfCANMessageSize {
			return core.Frame{}, false, fmt.Errorf("%w: can message", core.ErrTruncated)
		}
		channel := binary.LittleEndian.Uint16(body[0:2])
		flags := body[2]
		dlc := body[3]
		id := binary.LittleEndian.Uint32(body[4:8])
		return core.Frame{
			Timestamp:     timestamp,
			Channel:       int(channel) - 1,
			ArbitrationID: id & 0x1FFFFFFF,
			IsExtendedID:  id&blfCANMsgExt != 0,
			Kind:          core.FrameData,
			IsRemoteFrame: flags&blfRemoteFlag != 0,
			Direction:     direction(flags&blfDirFlag != 0),
			DLC:           int(dlc),
			Data:          payload(body[8:16], int(dlc)),
		}, true, nil

	case blfCANErrorExt:
		if len(body) < blfCANErrorExtSize {
			return core.Frame{}, false, fmt.Errorf("%w: can error frame", core.ErrTruncated)
		}
		channel := binary.LittleEndian.Uint16(body[0:2])
		dlc := body[10]
		id := binary.LittleEndian.Uint32(body[16:20])
		return core.Frame{
			Timestamp:     timestamp,
			Channel:       int(channel) - 1,
			ArbitrationID: id & 0x1FFFFFFF,
			IsExtendedID:  id&blfCANMsgExt != 0,
			Kind:          core.FrameError,
			DLC:           int(dlc),
			Data:          payload(body[24:32], int(dlc)),
			Error: &core.ErrorDetail{
				Flags:         binary.LittleEndian.Uint32(body[4:8]),
				Code:          body[8],
				Position:      body[9],
				FrameLength:   binary.LittleEndian.Uint32(body[12:16]),
				ExtendedFlags: binary.LittleEndian.Uint16(body[20:22]),
			},
		}, true, nil

	case blfCANFDMessage:
		if len(body) < blfCANFDMessageSize {
			return core.Frame{}, false, fmt.Errorf("%w: can fd message", core.ErrTruncated)
		}
		channel := binary.LittleEndian.Uint16(body[0:2])
		flags := body[2]
		dlc := body[3]
		id := binary.LittleEndian.Uint32(body[4:8])
		fdFlags := body[13]
		valid := body[14]
		return core.Frame{
			Timestamp:           timestamp,
			Channel:             int(channel) - 1,
			ArbitrationID:       id & 0x1FFFFFFF,
			IsExtendedID:        id&blfCANMsgExt != 0,
			Kind:                core.FrameData,
			IsRemoteFrame:       flags&blfRemoteFlag != 0,
			IsFD:                fdFlags&blfFDEDL != 0,
			BitrateSwitch:       fdFlags&blfFDBRS != 0,
			ErrorStateIndicator: fdFlags&blfFDESI != 0,
			Direction:           direction(flags&blfDirFlag != 0),
			DLC:                 core.DLCToLength(dlc),
			Data:                payload(body[20:84], int(valid)),
		}, true, nil

	case blfCANFDMessage64:
		if len(body) < blfCANFD64Size {
			return core.Frame{}, false, fmt.Errorf("%w: can fd64 message", core.ErrTruncated)
		}
		channel := body[0]
		dlc := body[1]
		valid := body[2]
		id := binary.LittleEndian.Uint32(body[4:8])
		flags := binary.LittleEndian.Uint32(body[12:16])
		dir := body[34]
		return core.Frame{
			Timestamp:           timestamp,
			Channel:             int(channel) - 1,
			ArbitrationID:       id & 0x1FFFFFFF,
			IsExtendedID:        id&blfCANMsgExt != 0,
			Kind:                core.FrameData,
			IsRemoteFrame:       flags&blfFD64Remote != 0,
			IsFD:                flags&blfFD64EDL != 0,
			BitrateSwitch:       flags&blfFD64BRS != 0,
			ErrorStateIndicator: flags&blfFD64ESI != 0,
			Direction:           direction(dir != 0),
			DLC:                 core.DLCToLength(dlc),
			Data:                payload(body[blfCANFD64Size:], int(valid)),
		}, true, nil
	}
	return core.Frame{}, false, nil
}

func direction(tx bool) core.Direction {
	if tx {
		return core.DirTx
	}
	return core.DirRx
}

// payload copies at most n bytes of src.
func payload(src []byte, n int) []byte {
	if n > len(src) {
		n = len(src)
	}
	out := make([]byte, n)
	copy(out, src[:n])
	return out
}

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:       "blf",
			Extension: ".blf",
			Kind:      core.KindTrace,
			Label:     "Binary logging format",
		},
		Trace: BLFDecoder{},
	})
}
