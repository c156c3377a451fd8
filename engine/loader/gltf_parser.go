package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Parser errors. All of them surface to callers wrapped in ErrInvalidAsset.
var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.x")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errTruncatedGLB       = errors.New("truncated GLB data")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidDataURI     = errors.New("invalid data URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
	errOutOfRange         = errors.New("index or range out of bounds")
	errExternalResource   = errors.New("external resource cannot be resolved")
	errNoDocument         = errors.New("no document loaded")
)

// gltfParserImpl is the implementation of the gltfParser interface.
type gltfParserImpl struct {
	baseDir        string
	document       *gltfDocument
	glbBinaryChunk []byte
}

// gltfParser decodes glTF JSON or GLB bytes and provides bounds-checked, typed accessor reads.
// This is internal to the loader package.
type gltfParser interface {
	// Parse decodes a glTF JSON document or a GLB container, detected by the GLB magic number,
	// and loads every buffer it references.
	//
	// Parameters:
	//   - data: the encoded asset
	//
	// Returns:
	//   - error: error if the data is not a valid glTF 2.x asset
	Parse(data []byte) error

	// Document returns the parsed glTF document, or nil before a successful Parse.
	//
	// Returns:
	//   - *gltfDocument: the parsed document or nil
	Document() *gltfDocument

	// ResolveURI returns the bytes behind a buffer or image URI. Data URIs are decoded in place;
	// relative paths are read from the resource directory and may not escape it.
	//
	// Parameters:
	//   - uri: the URI as written in the document
	//
	// Returns:
	//   - []byte: the resolved bytes
	//   - error: error if the URI cannot be resolved
	ResolveURI(uri string) ([]byte, error)

	// BufferViewData returns the bytes covered by a buffer view, without copying.
	//
	// Parameters:
	//   - viewIndex: the index of the buffer view
	//
	// Returns:
	//   - []byte: the view bytes
	//   - error: error if the view or its buffer is out of range
	BufferViewData(viewIndex int) ([]byte, error)

	// ReadAccessorData reads the tightly packed elements of an accessor, dropping any stride.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - []byte: the raw element bytes
	//   - error: error if the accessor or the range it covers is invalid
	ReadAccessorData(accessorIndex int) ([]byte, error)

	// ReadVec2Accessor reads a VEC2 accessor as floats, normalizing integer components.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - [][2]float32: the vec2 data
	//   - error: error if reading fails
	ReadVec2Accessor(accessorIndex int) ([][2]float32, error)

	// ReadVec3Accessor reads a VEC3 accessor as floats, normalizing integer components.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - [][3]float32: the vec3 data
	//   - error: error if reading fails
	ReadVec3Accessor(accessorIndex int) ([][3]float32, error)

	// ReadVec4Accessor reads a VEC4 accessor as floats, normalizing integer components.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - [][4]float32: the vec4 data
	//   - error: error if reading fails
	ReadVec4Accessor(accessorIndex int) ([][4]float32, error)

	// ReadIndicesAccessor reads a SCALAR accessor of UNSIGNED_BYTE, UNSIGNED_SHORT or UNSIGNED_INT as uint32.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - []uint32: the index data
	//   - error: error if reading fails
	ReadIndicesAccessor(accessorIndex int) ([]uint32, error)
}

var _ gltfParser = &gltfParserImpl{}

// newGLTFParser creates a parser that resolves external URIs under baseDir.
// An empty baseDir disables external files.
//
// Parameters:
//   - baseDir: the resource directory
//
// Returns:
//   - gltfParser: a new parser instance
func newGLTFParser(baseDir string) gltfParser {
	return &gltfParserImpl{baseDir: baseDir}
}

func (p *gltfParserImpl) Document() *gltfDocument {
	return p.document
}

func (p *gltfParserImpl) Parse(data []byte) error {
	if len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic {
		return p.parseGLB(data)
	}
	return p.parseJSON(data)
}

// parseJSON decodes the document and loads its buffers.
func (p *gltfParserImpl) parseJSON(data []byte) error {
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return errInvalidGLTFVersion
	}
	if err := p.loadBuffers(&doc); err != nil {
		return fmt.Errorf("failed to load buffers: %w", err)
	}

	p.document = &doc
	return nil
}

// parseGLB splits a GLB container into its JSON and BIN chunks.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#glb-file-format-specification
func (p *gltfParserImpl) parseGLB(data []byte) error {
	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return errTruncatedGLB
	}
	if header.Magic != gltfGLBMagic {
		return errInvalidGLBMagic
	}
	if header.Version != gltfGLBVersion {
		return errInvalidGLBVersion
	}

	var jsonData []byte
	for {
		var chunk gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errTruncatedGLB
		}
		if int64(chunk.ChunkLength) > int64(r.Len()) {
			return errTruncatedGLB
		}

		chunkData := make([]byte, chunk.ChunkLength)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return errTruncatedGLB
		}

		switch chunk.ChunkType {
		case gltfGLBChunkJSON:
			if jsonData == nil {
				jsonData = chunkData
			}
		case gltfGLBChunkBIN:
			if p.glbBinaryChunk == nil {
				p.glbBinaryChunk = chunkData
			}
		}
	}

	if jsonData == nil {
		return errMissingJSONChunk
	}
	return p.parseJSON(jsonData)
}

// loadBuffers fills every buffer's Data from its URI or, for the first URI-less buffer of a GLB, the BIN chunk.
func (p *gltfParserImpl) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]

		switch {
		case buf.URI != "":
			data, err := p.ResolveURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.Data = data
		case i == 0 && p.glbBinaryChunk != nil:
			buf.Data = p.glbBinaryChunk
		default:
			return fmt.Errorf("buffer %d has no URI and no GLB binary chunk", i)
		}

		if buf.ByteLength < 0 || len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("buffer %d: %w", i, errBufferSizeMismatch)
		}
		buf.Data = buf.Data[:buf.ByteLength]
	}
	return nil
}

func (p *gltfParserImpl) ResolveURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		return decodeDataURI(uri)
	}
	if p.baseDir == "" {
		return nil, fmt.Errorf("%w: %q (no resource directory configured)", errExternalResource, uri)
	}

	rel, err := url.PathUnescape(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errExternalResource, uri, err)
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q escapes the resource directory", errExternalResource, uri)
	}

	data, err := os.ReadFile(filepath.Join(p.baseDir, rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errExternalResource, err)
	}
	return data, nil
}

// decodeDataURI decodes a base64 data URI of the form data:[<mediatype>];base64,<data>.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errInvalidDataURI
	}
	header := uri[len("data:"):comma]
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: unsupported encoding %q", errInvalidDataURI, header)
	}

	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidDataURI, err)
	}
	return data, nil
}

// dataURIMimeType returns the media type of a data URI, or "" if it has none.
func dataURIMimeType(uri string) string {
	if !strings.HasPrefix(uri, "data:") {
		return ""
	}
	end := strings.IndexAny(uri, ";,")
	if end < 0 {
		return ""
	}
	return uri[len("data:"):end]
}

func (p *gltfParserImpl) BufferViewData(viewIndex int) ([]byte, error) {
	if p.document == nil {
		return nil, errNoDocument
	}
	if viewIndex < 0 || viewIndex >= len(p.document.BufferViews) {
		return nil, fmt.Errorf("buffer view %d: %w", viewIndex, errOutOfRange)
	}

	bv := &p.document.BufferViews[viewIndex]
	if bv.Buffer < 0 || bv.Buffer >= len(p.document.Buffers) {
		return nil, fmt.Errorf("buffer view %d references buffer %d: %w", viewIndex, bv.Buffer, errOutOfRange)
	}
	data := p.document.Buffers[bv.Buffer].Data
	if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset > len(data) || bv.ByteLength > len(data)-bv.ByteOffset {
		return nil, fmt.Errorf("buffer view %d [%d:+%d] exceeds buffer of %d bytes: %w",
			viewIndex, bv.ByteOffset, bv.ByteLength, len(data), errOutOfRange)
	}
	return data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
}

// accessor returns the accessor at index with its range checked.
func (p *gltfParserImpl) accessor(index int) (*gltfAccessor, error) {
	if p.document == nil {
		return nil, errNoDocument
	}
	if index < 0 || index >= len(p.document.Accessors) {
		return nil, fmt.Errorf("accessor %d: %w", index, errOutOfRange)
	}
	return &p.document.Accessors[index], nil
}

func (p *gltfParserImpl) ReadAccessorData(accessorIndex int) ([]byte, error) {
	acc, err := p.accessor(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Sparse != nil {
		return nil, fmt.Errorf("accessor %d: sparse accessors are not supported", accessorIndex)
	}
	if acc.BufferView == nil {
		return nil, fmt.Errorf("accessor %d has no bufferView", accessorIndex)
	}

	elementSize := gltfComponentTypeSize(acc.ComponentType) * gltfAccessorTypeComponentCount(acc.Type)
	if elementSize == 0 {
		return nil, fmt.Errorf("accessor %d: unsupported type %s/%d", accessorIndex, acc.Type, acc.ComponentType)
	}
	if acc.Count < 0 || acc.ByteOffset < 0 {
		return nil, fmt.Errorf("accessor %d: negative count or offset: %w", accessorIndex, errOutOfRange)
	}

	view, err := p.BufferViewData(*acc.BufferView)
	if err != nil {
		return nil, fmt.Errorf("accessor %d: %w", accessorIndex, err)
	}

	stride := elementSize
	if s := p.document.BufferViews[*acc.BufferView].ByteStride; s != nil && *s > 0 {
		stride = *s
	}
	if stride < elementSize {
		return nil, fmt.Errorf("accessor %d: stride %d smaller than element size %d", accessorIndex, stride, elementSize)
	}
	if acc.Count == 0 {
		return []byte{}, nil
	}

	last := int64(acc.ByteOffset) + int64(acc.Count-1)*int64(stride) + int64(elementSize)
	if last > int64(len(view)) {
		return nil, fmt.Errorf("accessor %d needs %d bytes, view has %d: %w", accessorIndex, last, len(view), errOutOfRange)
	}

	result := make([]byte, acc.Count*elementSize)
	for i := 0; i < acc.Count; i++ {
		src := acc.ByteOffset + i*stride
		copy(result[i*elementSize:(i+1)*elementSize], view[src:src+elementSize])
	}
	return result, nil
}

// readFloats reads an accessor of the given type as a flat float slice.
// Integer components are only accepted when the accessor is normalized.
func (p *gltfParserImpl) readFloats(accessorIndex int, accessorType string) ([]float32, error) {
	acc, err := p.accessor(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Type != accessorType {
		return nil, fmt.Errorf("accessor %d is %s, want %s", accessorIndex, acc.Type, accessorType)
	}
	if acc.ComponentType != gltfComponentTypeFloat && !acc.Normalized {
		return nil, fmt.Errorf("accessor %d: component type %d must be FLOAT or normalized", accessorIndex, acc.ComponentType)
	}

	data, err := p.ReadAccessorData(accessorIndex)
	if err != nil {
		return nil, err
	}

	size := gltfComponentTypeSize(acc.ComponentType)
	out := make([]float32, len(data)/size)
	for i := range out {
		b := data[i*size:]
		switch acc.ComponentType {
		case gltfComponentTypeFloat:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		case gltfComponentTypeUnsignedByte:
			out[i] = float32(b[0]) / 255
		case gltfComponentTypeByte:
			out[i] = max(float32(int8(b[0]))/127, -1)
		case gltfComponentTypeUnsignedShort:
			out[i] = float32(binary.LittleEndian.Uint16(b)) / 65535
		case gltfComponentTypeShort:
			out[i] = max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
		default:
			return nil, fmt.Errorf("accessor %d: unsupported component type %d", accessorIndex, acc.ComponentType)
		}
	}
	return out, nil
}

func (p *gltfParserImpl) ReadVec2Accessor(accessorIndex int) ([][2]float32, error) {
	flat, err := p.readFloats(accessorIndex, gltfAccessorTypeVec2)
	if err != nil {
		return nil, err
	}
	result := make([][2]float32, len(flat)/2)
	for i := range result {
		copy(result[i][:], flat[i*2:])
	}
	return result, nil
}

func (p *gltfParserImpl) ReadVec3Accessor(accessorIndex int) ([][3]float32, error) {
	flat, err := p.readFloats(accessorIndex, gltfAccessorTypeVec3)
	if err != nil {
		return nil, err
	}
	result := make([][3]float32, len(flat)/3)
	for i := range result {
		copy(result[i][:], flat[i*3:])
	}
	return result, nil
}

func (p *gltfParserImpl) ReadVec4Accessor(accessorIndex int) ([][4]float32, error) {
	flat, err := p.readFloats(accessorIndex, gltfAccessorTypeVec4)
	if err != nil {
		return nil, err
	}
	result := make([][4]float32, len(flat)/4)
	for i := range result {
		copy(result[i][:], flat[i*4:])
	}
	return result, nil
}

func (p *gltfParserImpl) ReadIndicesAccessor(accessorIndex int) ([]uint32, error) {
	acc, err := p.accessor(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("index accessor %d is not SCALAR: type=%s", accessorIndex, acc.Type)
	}

	data, err := p.ReadAccessorData(accessorIndex)
	if err != nil {
		return nil, err
	}

	result := make([]uint32, acc.Count)
	switch acc.ComponentType {
	case gltfComponentTypeUnsignedByte:
		for i := range result {
			result[i] = uint32(data[i])
		}
	case gltfComponentTypeUnsignedShort:
		for i := range result {
			result[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case gltfComponentTypeUnsignedInt:
		for i := range result {
			result[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
	default:
		return nil, fmt.Errorf("unsupported index component type: %d", acc.ComponentType)
	}
	return result, nil
}

// gltfComponentTypeSize returns the byte size of a component type, or 0 if unknown.
func gltfComponentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

// gltfAccessorTypeComponentCount returns the component count of an accessor type, or 0 if unknown.
func gltfAccessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4, gltfAccessorTypeMat2:
		return 4
	case gltfAccessorTypeMat3:
		return 9
	case gltfAccessorTypeMat4:
		return 16
	default:
		return 0
	}
}
