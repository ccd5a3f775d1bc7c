package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Resolve computes the physical time series of one signal.
//
// The first message carrying a signal of that name is used. Data frames with
// the message id are decoded in order; the raw field is sign-extended for
// signed signals and scaled as raw*scaling+offset. Frames whose payload is
// too short for the field are counted in Series.Skipped. Multiplexed
// signals are only sampled when the selector carries their value.
//
// Neither db nor frames are modified.
func Resolve(db *Database, frames []Frame, name string) (Series, error) {
	if db == nil {
		return Series{}, ErrNoDatabase
	}
	msg, sig, ok := db.MessageForSignal(name)
	if !ok {
		return Series{}, fmt.Errorf("%w: %s", ErrSignalNotFound, name)
	}

	series := Series{
		Signal:  sig.Name,
		Message: msg.Name,
		Units:   SanitizeUnits(sig.Units),
		Points:  make([]Point, 0),
	}

	var mux *Signal
	if sig.MultiplexerValue != nil && !sig.IsMultiplexer {
		mux, _ = msg.Multiplexer()
	}

	for i := range frames {
		f := &frames[i]
		if f.Kind != FrameData || f.ArbitrationID != msg.ID {
			continue
		}

		if mux != nil {
			sel, err := Extract(f.Data, mux.StartBit, mux.Length, mux.ByteOrder)
			if err != nil {
				series.Skipped++
				continue
			}
			if int64(sel) != int64(*sig.MultiplexerValue) {
				continue
			}
		}

		value, err := PhysicalValue(f.Data, sig)
		if err != nil {
			if errors.Is(err, ErrOutOfRange) {
				series.Skipped++
				continue
			}
			return series, err
		}
		series.Points = append(series.Points, Point{Time: f.Timestamp, Value: value})
	}

	return series, nil
}

// PhysicalValue decodes one signal from a payload into its physical value.
func PhysicalValue(data []byte, sig *Signal) (float64, error) {
	raw, err := Extract(data, sig.StartBit, sig.Length, sig.ByteOrder)
	if err != nil {
		return 0, err
	}
	var value float64
	if sig.ValueType == Signed {
		value = float64(SignExtend(raw, sig.Length))
	} else {
		value = float64(raw)
	}
	return value*sig.Scaling + sig.Offset, nil
}

// ResolveAll resolves several signals concurrently. Results keep the order
// of names; the first failure cancels the rest.
func ResolveAll(ctx context.Context, db *Database, frames []Frame, names []string) ([]Series, error) {
	results := make([]Series, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, name := range names {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			s, err := Resolve(db, frames, name)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
