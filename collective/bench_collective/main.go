// Command bench_collective reports the virtual time taken
// by ensemble reduce/broadcast operations across network
// configurations and allreduce algorithms, as a markdown
// table.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/unixpickle/essentials"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ensemblelab/collectives/collective"
	"github.com/ensemblelab/collectives/comm"
	"github.com/ensemblelab/collectives/simnet"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	Ranks   int     `yaml:"ranks"`
	Latency float64 `yaml:"latency"`
	Rate    float64 `yaml:"rate"`
}

// Config is the benchmark run matrix.
type Config struct {
	Runs []RunInfo `yaml:"runs"`

	// VecSizes are the local vector lengths to sweep.
	VecSizes []int `yaml:"vector_sizes"`

	// EnsembleSize is the number of vectors reduced per
	// collective, one call per column.
	EnsembleSize int `yaml:"ensemble_size"`
}

func defaultConfig() *Config {
	return &Config{
		Runs: []RunInfo{
			{Ranks: 2, Latency: 0.1, Rate: 1e6},
			{Ranks: 8, Latency: 1e-3, Rate: 1e6},
			{Ranks: 16, Latency: 0.1, Rate: 1e6},
			{Ranks: 16, Latency: 1e-4, Rate: 1e9},
		},
		VecSizes:     []int{10, 10000, 100000},
		EnsembleSize: 10,
	}
}

func loadConfig(path string, log *zap.Logger) *Config {
	if path == "" {
		return defaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("read config", zap.String("path", path), zap.Error(err))
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatal("parse config", zap.String("path", path), zap.Error(err))
	}
	log.Info("loaded config", zap.String("path", path), zap.Int("runs", len(cfg.Runs)))
	return &cfg
}

// Run spawns one goroutine per rank and measures the
// virtual time until every rank completes rankFn.
func (r *RunInfo) Run(reducer comm.Allreducer, rankFn func(c *collective.Group)) float64 {
	loop := simnet.NewLoop()
	nodes := make([]*simnet.Node, r.Ranks)
	for i := range nodes {
		nodes[i] = simnet.NewNode(loop)
	}
	network := simnet.NewLinkNetwork(r.Latency, r.Rate)
	comm.Spawn(loop, network, nodes, func(g *comm.Group) {
		g.Reducer = reducer
		rankFn(collective.NewGroup(g))
	})
	essentials.Must(loop.Run())
	return loop.Time()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "YAML file with the run matrix")
	flag.Parse()

	log, err := zap.NewDevelopment()
	essentials.Must(err)
	defer log.Sync()

	cfg := loadConfig(configPath, log)

	reducers := []comm.Allreducer{comm.NaiveAllreducer{}, comm.TreeAllreducer{}}
	reducerNames := []string{"Naive", "Tree"}

	// Markdown table header.
	fmt.Print("| Ranks | Latency | NIC rate | Size ")
	for _, reducerName := range reducerNames {
		fmt.Printf("| Reduce (%s) | Bcast (%s) ", reducerName, reducerName)
	}
	fmt.Println("|")
	for i := 0; i < 4+2*len(reducers); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range cfg.Runs {
		for _, size := range cfg.VecSizes {
			fmt.Printf(
				"| %d | %s | %s | %d ",
				runInfo.Ranks,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, reducer := range reducers {
				reduceTime := runInfo.Run(reducer, func(c *collective.Group) {
					mv := ensembleOfOnes(cfg.EnsembleSize, size)
					if _, err := c.Reduce(mv, collective.OpAvg); err != nil {
						log.Fatal("reduce failed", zap.Error(err))
					}
				})
				bcastTime := runInfo.Run(reducer, func(c *collective.Group) {
					mv := ensembleOfOnes(cfg.EnsembleSize, size)
					if _, err := c.Bcast(mv, 0); err != nil {
						log.Fatal("bcast failed", zap.Error(err))
					}
				})
				fmt.Printf("| %f | %f ", reduceTime, bcastTime)
			}
			fmt.Println("|")
		}
	}
}

func ensembleOfOnes(nvec, size int) *collective.Ensemble {
	vecs := make([]collective.Vector, nvec)
	for i := range vecs {
		col := make([]float64, size)
		for j := range col {
			col[j] = 1
		}
		vecs[i] = collective.VectorOf(col)
	}
	return collective.NewEnsemble(vecs...)
}
