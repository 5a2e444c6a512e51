// Command modtrain trains the modulation classifier on a directory of
// spectrogram images and writes the evaluation report.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rfml/modnet/history"
	"github.com/rfml/modnet/img"
	"github.com/rfml/modnet/nnet"
	"github.com/rfml/modnet/report"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	confFile := flag.String("config", "", "optional YAML config file")
	conf := nnet.DefaultConfig()
	flag.StringVar(&conf.DataDir, "data", conf.DataDir, "dataset root with train/validation/test subdirs")
	flag.StringVar(&conf.OutDir, "out", conf.OutDir, "output directory for report artifacts")
	flag.Float64Var(&conf.Eta, "eta", conf.Eta, "initial learning rate")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.BatchSize, "batch", conf.BatchSize, "train batch size")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed")
	flag.Parse()

	if *confFile != "" {
		overrides := conf
		var err error
		if conf, err = nnet.LoadConfig(*confFile); err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		// command line flags win over the config file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "data":
				conf.DataDir = overrides.DataDir
			case "out":
				conf.OutDir = overrides.OutDir
			case "eta":
				conf.Eta = overrides.Eta
			case "epochs":
				conf.MaxEpoch = overrides.MaxEpoch
			case "batch":
				conf.BatchSize = overrides.BatchSize
			case "seed":
				conf.RandSeed = overrides.RandSeed
			}
		})
	}
	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := img.CheckDataDir(conf.DataDir); err != nil {
		log.Fatal().Err(err).Msg("dataset precondition failed")
	}

	// the class set is discovered once from the training split and shared
	// with the other splits and the evaluator
	classes, err := img.ListClasses(filepath.Join(conf.DataDir, "train"))
	if err != nil {
		log.Fatal().Err(err).Msg("discover classes")
	}
	log.Info().Strs("classes", classes).Msg("class set")

	rng := nnet.NewRand(conf.RandSeed)
	splits := map[string]*img.Data{}
	for _, split := range []string{"train", "validation", "test"} {
		d, err := img.LoadDir(filepath.Join(conf.DataDir, split), classes, conf.ImageSize)
		if err != nil {
			log.Fatal().Err(err).Str("split", split).Msg("load images")
		}
		splits[split] = d
	}
	if conf.Augment.Enabled() {
		splits["train"].SetTrans(img.NewTransformer(splits["train"], conf.Augment, rng))
	}
	mean, std := img.GetStats(splits["train"].Images)
	log.Info().Floats32("mean", mean).Floats32("stddev", std).Msg("training set intensity stats")

	trainSet := nnet.NewDataset(splits["train"], conf.BatchSize, conf.Shuffle, rng)
	validSet := nnet.NewDataset(splits["validation"], conf.TestBatch, false, rng)
	testSet := nnet.NewDataset(splits["test"], conf.TestBatch, false, rng)

	conf = nnet.AlexNet(conf, len(classes))
	// buffers must hold the larger of the train and evaluation batch sizes
	batch := conf.BatchSize
	if conf.TestBatch > batch {
		batch = conf.TestBatch
	}
	net := nnet.New(conf, classes, batch, splits["train"].Shape())
	net.InitWeights()
	log.Info().Msg("network:\n" + net.String())

	trainer := &nnet.Trainer{Net: net, Train: trainSet, Valid: validSet}
	stats, err := trainer.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	if conf.HistoryDB != "" {
		if err := saveHistory(conf.HistoryDB, classes, stats); err != nil {
			log.Error().Err(err).Msg("save run history")
		}
	}

	res, err := nnet.EvaluateTest(net, testSet)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}
	log.Info().Float64("loss", res.Loss).Float64("accuracy", res.Accuracy).Msg("test results")

	rep, err := report.New(conf.OutDir)
	if err != nil {
		log.Fatal().Err(err).Msg("create reporter")
	}
	if err := rep.WriteAll(res, stats); err != nil {
		log.Fatal().Err(err).Msg("write report")
	}
}

func saveHistory(path string, classes []string, stats []nnet.Stats) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	id := time.Now().UTC().Format("20060102-150405")
	return store.Save(history.Run{ID: id, Classes: classes, Epochs: stats})
}
