package nnet

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rfml/modnet/num"
)

// Stats holds the scalar metrics for one training epoch.
type Stats struct {
	Epoch   int           `json:"epoch"`
	Loss    float64       `json:"loss"`
	Acc     float64       `json:"acc"`
	ValLoss float64       `json:"val_loss"`
	ValAcc  float64       `json:"val_acc"`
	Eta     float64       `json:"eta"`
	Elapsed time.Duration `json:"elapsed"`
}

// checkpointPolicy saves whenever validation accuracy strictly exceeds the
// best seen, so ties keep the earlier epoch.
type checkpointPolicy struct {
	best float64
	init bool
}

func (p *checkpointPolicy) improved(valAcc float64) bool {
	if !p.init || valAcc > p.best {
		p.best, p.init = valAcc, true
		return true
	}
	return false
}

// earlyStopPolicy stops the run once validation loss has failed to improve
// for patience consecutive epochs.
type earlyStopPolicy struct {
	patience int
	best     float64
	since    int
	init     bool
}

// step returns (loss improved, training should stop).
func (p *earlyStopPolicy) step(valLoss float64) (improved, stop bool) {
	if !p.init || valLoss < p.best {
		p.best, p.init = valLoss, true
		p.since = 0
		return true, false
	}
	p.since++
	return false, p.patience > 0 && p.since >= p.patience
}

// decayPolicy multiplies the step size by factor after each plateau of
// patience epochs, floored at minEta. The counter resets after a decay so
// the factor applies exactly once per plateau window.
type decayPolicy struct {
	patience int
	factor   float64
	minEta   float64
	best     float64
	since    int
	init     bool
}

func (p *decayPolicy) step(valLoss, eta float64) float64 {
	if p.patience <= 0 {
		return eta
	}
	if !p.init || valLoss < p.best {
		p.best, p.init = valLoss, true
		p.since = 0
		return eta
	}
	p.since++
	if p.since >= p.patience {
		p.since = 0
		eta *= p.factor
		if eta < p.minEta {
			eta = p.minEta
		}
	}
	return eta
}

// Trainer runs the epoch loop with the three passive policies: best
// checkpoint save, early stopping with rollback and step size decay on
// plateau.
type Trainer struct {
	Net     *Network
	Train   *Dataset
	Valid   *Dataset
	OnEpoch func(Stats) // optional per epoch hook
}

// Run trains the network until the epoch cap or early stop, then reloads
// the persisted best checkpoint, so the evaluator always sees the
// best-by-validation-accuracy weights however training ended.
func (t *Trainer) Run() ([]Stats, error) {
	history, err := t.run()
	if err != nil {
		return history, err
	}
	// reload the single best-by-validation-accuracy parameter set
	conf := t.Net.Config
	ck, err := LoadCheckpoint(conf.Checkpoint)
	if err != nil {
		return history, errors.Wrap(err, "reload best checkpoint")
	}
	if err := t.Net.RestoreCheckpoint(ck); err != nil {
		return history, err
	}
	log.Info().Int("epoch", ck.Epoch).Float64("valAcc", ck.ValAccuracy).Msg("restored best checkpoint")
	return history, nil
}

// run is the epoch loop. When early stopping fires the in-memory parameters
// are rolled back to the best validation loss epoch before returning.
func (t *Trainer) run() ([]Stats, error) {
	net := t.Net
	conf := net.Config
	saver := &checkpointPolicy{}
	stopper := &earlyStopPolicy{patience: conf.StopAfter}
	decay := &decayPolicy{patience: conf.DecayAfter, factor: conf.DecayFactor, minEta: conf.MinEta}
	eta := conf.Eta
	var history []Stats
	var bestWeights [][]*num.Array
	start := time.Now()
	for epoch := 1; epoch <= conf.MaxEpoch; epoch++ {
		loss, acc := t.trainEpoch(eta)
		valLoss, valAcc, _ := net.Evaluate(t.Valid, nil)
		s := Stats{Epoch: epoch, Loss: loss, Acc: acc, ValLoss: valLoss, ValAcc: valAcc,
			Eta: eta, Elapsed: time.Since(start)}
		history = append(history, s)
		if t.OnEpoch != nil {
			t.OnEpoch(s)
		}
		event := log.Info().Int("epoch", epoch).Float64("loss", loss).Float64("acc", acc).
			Float64("valLoss", valLoss).Float64("valAcc", valAcc).Float64("eta", eta)
		if saver.improved(valAcc) {
			if err := net.SaveCheckpoint(conf.Checkpoint, epoch, valAcc, valLoss); err != nil {
				return history, err
			}
			event = event.Bool("checkpoint", true)
		}
		improved, stop := stopper.step(valLoss)
		if improved {
			bestWeights = net.Snapshot()
		}
		eta = decay.step(valLoss, eta)
		event.Msg("epoch complete")
		if stop {
			log.Info().Int("epoch", epoch).Int("patience", conf.StopAfter).Msg("early stopping")
			if bestWeights != nil {
				if err := net.Restore(bestWeights); err != nil {
					return history, err
				}
			}
			break
		}
	}
	return history, nil
}

// trainEpoch performs one pass over the training batches, returning the mean
// loss and accuracy across them.
func (t *Trainer) trainEpoch(eta float64) (loss, acc float64) {
	net := t.Net
	dset := t.Train
	classes := len(net.Classes)
	grad := num.NewArray(dset.BatchSize, classes)
	correct := 0
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, yOneHot := dset.NextBatch()
		yPred := net.Fprop(x, true)
		loss += net.OutLayer().Loss(yOneHot, yPred)
		for i, p := range num.Argmax(yPred) {
			if p == y[i] {
				correct++
			}
		}
		// gradient at the output is the difference from the one hot labels
		g := grad.Slice(0, yPred.Dims[0])
		copy(g.Data, yPred.Data)
		num.Axpy(-1, yOneHot, g)
		net.Bprop(g)
		net.Update(eta)
	}
	return loss / float64(dset.Samples), float64(correct) / float64(dset.Samples)
}
