package inputs

import "errors"

// InputBuffer receives encoded record batches from inputs. Each call carries
// the records of one read event, tagged with the producing input.
type InputBuffer interface {
	Append(tag string, data []byte) error
}

// MultiBuffer fans every batch out to all of its buffers, in order.
type MultiBuffer []InputBuffer

func (m MultiBuffer) Append(tag string, data []byte) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Append(tag, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
