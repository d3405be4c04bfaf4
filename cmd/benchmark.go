package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"llmloadtest/internal/api"
	"llmloadtest/internal/utils"
)

// progressObserver draws one progress bar per batch and, in table mode, prints
// each row as soon as the batch is aggregated.
type progressObserver struct {
	maxTokens  int
	printTable bool
	bar        *progressbar.ProgressBar
}

func (o *progressObserver) BatchStarted(backend api.Backend, numUsers int) api.UnitReporter {
	o.bar = progressbar.NewOptions(numUsers*o.maxTokens,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("%s x%d", backend, numUsers)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tokens"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	return o.bar
}

func (o *progressObserver) BatchFinished(summary utils.Summary) {
	if o.bar != nil {
		o.bar.Finish()
		if o.printTable {
			o.bar.Clear()
		} else {
			fmt.Fprintf(os.Stderr, "\n")
		}
		o.bar.Close()
		o.bar = nil
	}
	if o.printTable {
		fmt.Println(utils.FormatRow(summary))
	}
}

func (lt *LoadTest) newSweep(printTable bool) *utils.Sweep {
	sweep := utils.NewSweep(lt.Config, api.NewClient(lt.HTTPClient))
	sweep.Observer = &progressObserver{maxTokens: lt.Config.MaxTokens, printTable: printTable}
	return sweep
}

func (lt *LoadTest) runCli(ctx context.Context) error {
	sweep := lt.newSweep(true)
	if err := sweep.Validate(); err != nil {
		return err
	}

	utils.PrintBenchmarkHeader(os.Stdout, sweep.Targets, sweep.Levels, lt.Config.MaxTokens)
	utils.PrintTableHeader(os.Stdout)

	result, err := sweep.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n================================================================================================================")

	if len(lt.Config.Backends) > 1 {
		fmt.Println()
		for _, lc := range utils.Compare(result, lt.Config.Backends) {
			if lc.Winner == "" {
				fmt.Printf("Users %3d: no backend produced output\n", lc.NumUsers)
				continue
			}
			fmt.Printf("Users %3d: %s wins (%.2fx)\n", lc.NumUsers, lc.Winner, lc.Speedup)
		}
	}

	path, err := utils.SaveResultsToMD(lt.ReportPath, result, lt.Config.Backends)
	if err != nil {
		return err
	}
	fmt.Printf("\nResults saved to: %s\n", path)
	return nil
}

func (lt *LoadTest) run(ctx context.Context) (LoadTestResult, error) {
	sweep := lt.newSweep(false)
	result := LoadTestResult{
		Backends:   sweep.Targets,
		UserCounts: sweep.Levels,
		MaxTokens:  lt.Config.MaxTokens,
	}

	sweepResult, err := sweep.Run(ctx)
	if err != nil {
		return result, err
	}

	result.Results = sweepResult
	if len(lt.Config.Backends) > 1 {
		result.Comparison = utils.Compare(sweepResult, lt.Config.Backends)
	}
	return result, nil
}

// printStatus probes every configured backend and reports whether it answers.
func (lt *LoadTest) printStatus(ctx context.Context) bool {
	allUp := true
	fmt.Println("| Backend | URL                                      | Available |")
	fmt.Println("|---------|------------------------------------------|-----------|")
	for _, b := range lt.Config.Backends {
		bc, _ := lt.Config.Backend(b)
		up := api.Probe(ctx, lt.HTTPClient, b, bc.URL, bc.APIKey, lt.Config.StatusTimeout)
		if !up {
			allUp = false
		}
		fmt.Printf("| %-7s | %-40s | %-9t |\n", b, bc.URL, up)
	}
	return allUp
}

// discoverModels fills in empty model names from the backend's model list.
func (lt *LoadTest) discoverModels(ctx context.Context) error {
	for _, b := range lt.Config.Backends {
		bc, _ := lt.Config.Backend(b)
		if bc.Model != "" {
			continue
		}
		model, err := api.FirstAvailableModel(ctx, lt.HTTPClient, b, bc.URL, bc.APIKey)
		if err != nil {
			return fmt.Errorf("error discovering %s model: %w", b, err)
		}
		switch b {
		case api.BackendVLLM:
			lt.Config.VLLM.Model = model
		case api.BackendOllama:
			lt.Config.Ollama.Model = model
		}
	}
	return nil
}
