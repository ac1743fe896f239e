package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BatchOptions)(nil)

// BatchOptions bounds batch command execution.
type BatchOptions struct {
	MaxItems    int `json:"max-items" mapstructure:"max-items"`
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
}

func NewBatchOptions() *BatchOptions {
	return &BatchOptions{MaxItems: 100, Concurrency: 16}
}

func (o *BatchOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MaxItems <= 0 {
		errs = append(errs, fmt.Errorf("--batch.max-items must be positive, got %d", o.MaxItems))
	}
	if o.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("--batch.concurrency must be positive, got %d", o.Concurrency))
	}
	return errs
}

func (o *BatchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MaxItems, "batch.max-items", o.MaxItems, "Largest accepted batch.")
	fs.IntVar(&o.Concurrency, "batch.concurrency", o.Concurrency, "Devices commanded in parallel within one batch.")
}
