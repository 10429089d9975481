package codec

import (
	"errors"
	"sync"
	"time"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// maxPendingMeta bounds the submitted-but-not-yet-decoded metadata FIFO.
// Decoders that swallow packets without output would otherwise grow it.
const maxPendingMeta = 64

// State is the lifecycle position of a Context.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateContextCreated
	StateDisposed
)

var stateNames = [...]string{
	StateUninitialized:  "uninitialized",
	StateInitialized:    "initialized",
	StateContextCreated: "context_created",
	StateDisposed:       "disposed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// LatencyObserver receives the time from packet arrival to decoded output,
// in seconds. prometheus.Observer satisfies it.
type LatencyObserver interface {
	Observe(float64)
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the context logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLatencyObserver reports decode latency for every unit received.
func WithLatencyObserver(o LatencyObserver) Option {
	return func(c *Context) {
		c.latency = o
	}
}

// Context owns one decoder and, when the decoded representation differs
// from the target, one converter. All methods are safe for concurrent use
// but the decode path is expected to be driven by a single worker.
type Context struct {
	mu sync.Mutex

	lib     Library
	variant StreamVariant
	state   State

	doResample bool
	extraData  []byte

	decoder   Decoder
	converter Converter

	pending  []UnitMeta
	position int64
	epoch    uint64

	// Metrics
	submitted        uint64
	submittedTotal   uint64
	decoded          uint64
	converted        uint64
	decodeErrors     uint64
	conversionErrors uint64

	latency LatencyObserver
	logger  logger.Logger
}

// Stats is a point-in-time view of a Context.
type Stats struct {
	State            string `json:"state"`
	Format           string `json:"format"`
	DoResample       bool   `json:"do_resample"`
	Epoch            uint64 `json:"epoch"`
	Submitted        uint64 `json:"submitted"`
	Decoded          uint64 `json:"decoded"`
	Converted        uint64 `json:"converted"`
	DecodeErrors     uint64 `json:"decode_errors"`
	ConversionErrors uint64 `json:"conversion_errors"`
	PendingMeta      int    `json:"pending_meta"`
}

// NewContext creates an uninitialized context backed by lib.
func NewContext(lib Library, opts ...Option) *Context {
	c := &Context{
		lib:    lib,
		logger: logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("backend", lib.Name())
	return c
}

// Initialize records the stream format and derives whether decoded output
// must be converted. It may only succeed once.
func (c *Context) Initialize(v StreamVariant) error {
	const op = "initialize"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return newError(ErrorTypeAlreadyInitialized, op, "context already initialized", nil)
	}
	if v == nil {
		return newError(ErrorTypeUnsupportedCodec, op, "no stream format", nil)
	}

	id := v.Codec()
	switch {
	case id == types.CodecPCM || id == types.CodecRGB:
		return newError(ErrorTypeNotImplemented, op, id.String()+" streams are not implemented", nil)
	case v.Kind() == types.KindAudio && !id.IsAudio(),
		v.Kind() == types.KindVideo && !id.IsVideo():
		return newError(ErrorTypeUnsupportedCodec, op, "codec "+id.String()+" is not a "+v.Kind().String()+" codec", nil)
	}
	if err := v.Validate(); err != nil {
		return newError(ErrorTypeInvalidFormat, op, "invalid stream format", err)
	}
	if !c.lib.Supports(id) {
		return newError(ErrorTypeUnsupportedCodec, op, c.lib.Name()+" cannot decode "+id.String(), nil)
	}

	c.variant = v
	c.doResample = c.needsConversion()
	c.state = StateInitialized
	c.logger = c.logger.WithFields(map[string]interface{}{
		"kind":  v.Kind().String(),
		"codec": id.String(),
	})

	c.logger.WithFields(map[string]interface{}{
		"format":      v.String(),
		"do_resample": c.doResample,
	}).Debug("Codec context initialized")
	return nil
}

func (c *Context) needsConversion() bool {
	src := c.variant.SourceParams(c.lib.Capabilities(c.variant.Codec()))
	return !src.Equal(c.variant.TargetParams())
}

// OverwriteTargetFormat replaces the representation handed to the renderer.
// Only the non-zero fields of target are applied. It is rejected once the
// decoder context exists.
func (c *Context) OverwriteTargetFormat(target ConvertParams) error {
	const op = "overwrite_target"

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized:
		return newError(ErrorTypeNotInitialized, op, "context not initialized", nil)
	case StateContextCreated:
		return newError(ErrorTypeAlreadyInitialized, op, "decoder context already created", nil)
	case StateDisposed:
		return newError(ErrorTypeDisposed, op, "context disposed", nil)
	}

	v, err := c.variant.WithTarget(target)
	if err != nil {
		return newError(ErrorTypeInvalidFormat, op, "invalid target format", err)
	}
	c.variant = v
	c.doResample = c.needsConversion()
	return nil
}

// CreateDecoderContext opens the decoder, and the converter when needed.
// Parameters stored by UpdateCodecParameters are passed as extradata.
func (c *Context) CreateDecoderContext() error {
	const op = "create_context"

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized:
		return newError(ErrorTypeNotInitialized, op, "context not initialized", nil)
	case StateContextCreated:
		return newError(ErrorTypeAlreadyInitialized, op, "decoder context already created", nil)
	case StateDisposed:
		return newError(ErrorTypeDisposed, op, "context disposed", nil)
	}

	id := c.variant.Codec()
	dec, err := c.lib.OpenDecoder(id, c.variant.DecoderParams(c.extraData))
	if err != nil {
		return newError(ErrorTypeDecoderOpenFailed, op, "cannot open "+id.String()+" decoder", err)
	}

	var conv Converter
	if c.doResample {
		src := c.variant.SourceParams(c.lib.Capabilities(id))
		dst := c.variant.TargetParams()
		conv, err = c.lib.OpenConverter(src, dst)
		if err != nil {
			if cerr := dec.Close(); cerr != nil {
				c.logger.WithError(cerr).Warn("Failed to close decoder after converter error")
			}
			return newError(ErrorTypeConverterInitFailed, op, "cannot convert "+src.String()+" to "+dst.String(), err)
		}
	}

	c.decoder = dec
	c.converter = conv
	c.state = StateContextCreated

	c.logger.WithFields(map[string]interface{}{
		"extradata_bytes": len(c.extraData),
		"converter":       conv != nil,
	}).Info("Decoder context created")
	return nil
}

// UpdateCodecParameters stores or applies out-of-band codec parameters.
// Once a content packet has been submitted the parameters are locked until
// the next Reinit.
func (c *Context) UpdateCodecParameters(data []byte) error {
	const op = "update_parameters"

	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized:
		return newError(ErrorTypeNotInitialized, op, "context not initialized", nil)
	case StateDisposed:
		return newError(ErrorTypeDisposed, op, "context disposed", nil)
	case StateInitialized:
		c.extraData = append([]byte(nil), data...)
		return nil
	}

	if c.submitted > 0 {
		return newError(ErrorTypeParametersLocked, op, "content already submitted", nil)
	}
	if err := c.decoder.SetExtraData(data); err != nil {
		return newError(ErrorTypeDecoderOpenFailed, op, "decoder rejected parameters", err)
	}
	c.extraData = append([]byte(nil), data...)
	c.logger.WithField("extradata_bytes", len(data)).Debug("Codec parameters applied")
	return nil
}

// Reinit flushes the decoder. Output of packets submitted before the call
// is discarded and parameters are unlocked again.
func (c *Context) Reinit() error {
	const op = "reinit"

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDisposed:
		return newError(ErrorTypeDisposed, op, "context disposed", nil)
	case StateContextCreated:
	default:
		return newError(ErrorTypeNotReady, op, "decoder context not created", nil)
	}

	c.decoder.Flush()
	c.epoch++
	c.pending = nil
	c.submitted = 0
	c.logger.WithField("epoch", c.epoch).Info("Decoder flushed")
	return nil
}

// Submit hands one encoded unit to the decoder. ErrWouldBlock is returned
// unwrapped when the decoder wants its output drained first.
func (c *Context) Submit(unit types.EncodedUnit) error {
	const op = "submit"

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(op); err != nil {
		return err
	}
	if len(unit.Data) == 0 {
		return nil
	}

	if err := c.decoder.SubmitPacket(unit.Data); err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}
		c.decodeErrors++
		return newError(ErrorTypeDecodeFailed, op, "packet rejected", err)
	}

	c.submitted++
	c.submittedTotal++
	if len(c.pending) == maxPendingMeta {
		c.pending = c.pending[1:]
	}
	received := unit.Received
	if received.IsZero() {
		received = time.Now()
	}
	c.pending = append(c.pending, UnitMeta{FrameID: unit.FrameID, Received: received})
	return nil
}

// Receive returns the next decoded unit, converted to the target format.
// ErrNotReady means the decoder has nothing to hand out yet.
func (c *Context) Receive() (types.DecodedUnit, error) {
	const op = "receive"

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(op); err != nil {
		return nil, err
	}

	raw, err := c.decoder.ReceiveFrame()
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return nil, ErrNotReady
		}
		c.popMeta()
		c.decodeErrors++
		return nil, newError(ErrorTypeDecodeFailed, op, "decode failed", err)
	}

	meta := c.popMeta()
	out := raw
	if c.doResample {
		out, err = c.converter.Convert(raw)
		if err != nil {
			c.conversionErrors++
			return nil, newError(ErrorTypeConversionFailed, op, "conversion failed", err)
		}
		c.converted++
	}

	meta.Timestamp = c.variant.Timestamp(c.position)
	unit, err := c.variant.Shape(out, meta)
	if err != nil {
		c.conversionErrors++
		return nil, newError(ErrorTypeConversionFailed, op, "unexpected frame shape", err)
	}
	c.position += c.variant.Span(out)
	c.decoded++

	if c.latency != nil && !meta.Received.IsZero() {
		c.latency.Observe(time.Since(meta.Received).Seconds())
	}
	return unit, nil
}

func (c *Context) readyLocked(op string) error {
	switch c.state {
	case StateContextCreated:
		return nil
	case StateDisposed:
		return newError(ErrorTypeDisposed, op, "context disposed", nil)
	}
	return newError(ErrorTypeNotReady, op, "decoder context not created", nil)
}

func (c *Context) popMeta() UnitMeta {
	if len(c.pending) == 0 {
		return UnitMeta{}
	}
	m := c.pending[0]
	c.pending = c.pending[1:]
	return m
}

// Dispose closes the converter and the decoder. It is safe to call more
// than once and from any state.
func (c *Context) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisposed {
		return nil
	}

	var errs []error
	if c.converter != nil {
		if err := c.converter.Close(); err != nil {
			errs = append(errs, err)
		}
		c.converter = nil
	}
	if c.decoder != nil {
		if err := c.decoder.Close(); err != nil {
			errs = append(errs, err)
		}
		c.decoder = nil
	}
	c.pending = nil
	c.state = StateDisposed
	c.logger.Debug("Codec context disposed")

	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DoResample reports whether decoded output goes through the converter.
func (c *Context) DoResample() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doResample
}

// IsDecoder reports whether the context has an open decoder.
func (c *Context) IsDecoder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decoder != nil
}

// Kind returns the stream kind, or KindAudio before Initialize.
func (c *Context) Kind() types.StreamKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variant == nil {
		return types.KindAudio
	}
	return c.variant.Kind()
}

// Format returns the stream variant, nil before Initialize.
func (c *Context) Format() StreamVariant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.variant
}

// Epoch returns how many times the decoder has been flushed.
func (c *Context) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// GetStats returns context statistics.
func (c *Context) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		State:            c.state.String(),
		DoResample:       c.doResample,
		Epoch:            c.epoch,
		Submitted:        c.submittedTotal,
		Decoded:          c.decoded,
		Converted:        c.converted,
		DecodeErrors:     c.decodeErrors,
		ConversionErrors: c.conversionErrors,
		PendingMeta:      len(c.pending),
	}
	if c.variant != nil {
		s.Format = c.variant.String()
	}
	return s
}
