package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/autopilot/internal/database"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/executor"
	"github.com/ksred/autopilot/internal/intent"
	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/monitor"
	"github.com/ksred/autopilot/internal/notify"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/planner"
	"github.com/ksred/autopilot/internal/safety"
	"github.com/ksred/autopilot/internal/scheduler"
	"github.com/ksred/autopilot/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders     = 15
	maxOrders     = 60
	numWorkers    = 5
	simTicks      = 72
	tickAdvance   = time.Hour
	dailySpendCap = 500.0
)

var (
	tokens      = []string{"SOL", "ETH", "BTC", "JUP", "BONK"}
	owners      = []string{"CLIENT_0", "CLIENT_1", "CLIENT_2"}
	intentTexts = []string{
		"maximize yield on 10 SOL",
		"find the best staking yield for my ETH",
		"rebalance my portfolio to 60/40",
	}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// tickStats tracks duration statistics for scheduler ticks
type tickStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
}

// addDuration records a new duration measurement
func (ts *tickStats) addDuration(d time.Duration) {
	ts.durations = append(ts.durations, d)
	ts.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (ts *tickStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(ts.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(ts.durations, func(i, j int) bool {
		return ts.durations[i] < ts.durations[j]
	})

	min = ts.durations[0]
	max = ts.durations[len(ts.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range ts.durations {
		sum += d
	}
	mean = sum / time.Duration(len(ts.durations))

	// Calculate median
	median = ts.durations[len(ts.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(ts.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(ts.durations))*0.99)) - 1
	p95 = ts.durations[p95idx]
	p99 = ts.durations[p99idx]

	return
}

// randomOrder builds a standing order of a random type with randomised
// schedule and safety limits
func randomOrder(ownerIdx int) *types.StandingOrder {
	orderType := types.OrderTypes[rand.Intn(len(types.OrderTypes))]
	token := tokens[rand.Intn(len(tokens))]

	order := &types.StandingOrder{
		OwnerID:   owners[ownerIdx%len(owners)],
		Type:      orderType,
		Frequency: types.FrequencyHourly,
		Amount:    float64(rand.Intn(50) + 5),
		Token:     token,
	}

	// Vary the schedule
	switch rand.Intn(4) {
	case 0:
		order.Frequency = types.FrequencyDaily
	case 1:
		order.Frequency = types.FrequencyCustom
		order.CustomIntervalMs = int64((rand.Intn(6) + 1)) * time.Hour.Milliseconds()
	}

	// Some orders carry lifetime limits so the safety gate has work to do
	if rand.Intn(3) == 0 {
		order.TotalSpentLimit = order.Amount * float64(rand.Intn(5)+2)
	}
	if rand.Intn(4) == 0 {
		order.MaxExecutions = rand.Intn(10) + 1
	}

	switch orderType {
	case types.OrderTypeLimitOrder:
		order.Token = "SOL"
		order.TriggerPrice = 140 + rand.Float64()*25
		if rand.Intn(2) == 0 {
			order.TriggerDirection = "ABOVE"
		} else {
			order.TriggerDirection = "BELOW"
		}
	case types.OrderTypeAutoVote:
		order.Validator = fmt.Sprintf("validator-%d", rand.Intn(5))
		order.Amount = 0
	case types.OrderTypeRebalance:
		order.TargetAllocation = `{"SOL":0.6,"ETH":0.4}`
		order.RebalanceThreshold = 0.05
	case types.OrderTypeDCA:
		order.TargetAllocation = `{"SOL":0.5,"BTC":0.5}`
	}

	return order
}

// main runs the execution engine simulation
// It seeds standing orders and intents, then drives the scheduler over a
// simulated clock while drifting the price feed
func main() {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Wire the engine the same way the server does
	metrics := &domain.StaticMetrics{Values: map[string]float64{
		"price:SOL":        150.0,
		"price:ETH":        3200.0,
		"portfolio:health": 1.0,
	}}
	domainHandlers := domain.SimulatedHandlers(metrics)
	notifier := notify.NewLogNotifier()

	ledgerService := ledger.NewService(db)
	orderService := orders.NewService(db)
	gate := safety.NewGate(ledgerService, orderService.GetDB(), dailySpendCap)
	executorService := executor.NewService(db, gate, domainHandlers, notifier, 10*time.Second)
	registry := monitor.NewRegistry(db, metrics, domainHandlers, notifier, time.Minute)
	tickScheduler := scheduler.NewScheduler(orderService.GetDB(), executorService, numWorkers, time.Minute)

	confirmations := intent.NewConfirmations()
	stepExecutor := intent.NewStepExecutor(intent.NewDatabase(db), domainHandlers, registry, confirmations, 10*time.Second, 30*time.Second)
	intentService := intent.NewService(db, planner.NewScripted(), stepExecutor, registry, confirmations, 0.5)

	// Seed standing orders
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	typeCounts := make(map[types.OrderType]int)
	var orderIDs []string
	for i := 0; i < targetOrders; i++ {
		order := randomOrder(i)
		if err := orderService.CreateOrder(order, uuid.New().String()); err != nil {
			log.Error().Err(err).Str("type", string(order.Type)).Msg("Failed to create order")
			continue
		}
		orderIDs = append(orderIDs, order.OrderID)
		typeCounts[order.Type]++
		log.Info().
			Str("order_id", order.OrderID).
			Str("type", string(order.Type)).
			Str("frequency", string(order.Frequency)).
			Float64("amount", order.Amount).
			Msg("Order created")
	}

	// Submit intents; the confirmation-gated one is approved asynchronously
	ctx := context.Background()
	var intentIDs []string
	for _, text := range intentTexts {
		submitted, err := intentService.Submit(ctx, owners[0], text)
		if err != nil {
			log.Error().Err(err).Str("text", text).Msg("Failed to submit intent")
			continue
		}
		intentIDs = append(intentIDs, submitted.IntentID)

		done := make(chan struct{})
		go func(id string) {
			defer close(done)
			if _, err := intentService.Execute(ctx, id); err != nil {
				log.Error().Err(err).Str("intent_id", id).Msg("Intent execution failed")
			}
		}(submitted.IntentID)

		// Approve when the executor blocks on confirmation
		for i := 0; i < 50; i++ {
			if intentService.Confirm(submitted.IntentID, true) {
				break
			}
			select {
			case <-done:
				i = 50
			case <-time.After(20 * time.Millisecond):
			}
		}
		<-done
	}

	// Drive the scheduler over a simulated clock, drifting prices each tick
	stats := &tickStats{name: "Scheduler Tick"}
	var totals scheduler.TickSummary
	simTime := time.Now()
	startWall := time.Now()

	for tick := 0; tick < simTicks; tick++ {
		simTime = simTime.Add(tickAdvance)

		// Random walk on the price feed so limit orders and rules can fire
		metrics.Values["price:SOL"] *= 1 + (rand.Float64()-0.5)*0.04
		metrics.Values["price:ETH"] *= 1 + (rand.Float64()-0.5)*0.03

		start := time.Now()
		summary := tickScheduler.Tick(ctx, simTime)
		stats.addDuration(time.Since(start))

		totals.Attempted += summary.Attempted
		totals.Succeeded += summary.Succeeded
		totals.Skipped += summary.Skipped
		totals.Failed += summary.Failed

		evalSummary := registry.Evaluate(ctx, simTime)

		log.Info().
			Int("tick", tick+1).
			Time("sim_time", simTime).
			Int("attempted", summary.Attempted).
			Int("succeeded", summary.Succeeded).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Int("rules_triggered", evalSummary.Triggered).
			Msg("Tick complete")
	}

	// Aggregate final state
	var totalSpend float64
	var completedOrders, activeOrders int
	for _, orderID := range orderIDs {
		spent, _, err := ledgerService.Totals(orderID)
		if err == nil {
			totalSpend += spent
		}
		order, err := orderService.GetOrder(orderID)
		if err != nil || order == nil {
			continue
		}
		switch order.Status {
		case types.OrderStatusCompleted:
			completedOrders++
		case types.OrderStatusActive:
			activeOrders++
		}
	}

	intentStatuses := make(map[types.IntentStatus]int)
	for _, intentID := range intentIDs {
		loaded, err := intentService.GetDB().GetIntent(intentID)
		if err == nil && loaded != nil {
			intentStatuses[loaded.Status]++
		}
	}

	// Print summary
	duration := time.Since(startWall)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("EXECUTION ENGINE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Standing Orders:  %d
Attempts:         %d
Succeeded:        %d
Skipped:          %d
Failed:           %d
Completed Orders: %d
Active Orders:    %d
Total Spend:      $%.2f
Sim Horizon:      %d ticks of %s
Duration:         %v

Type Distribution
-----------------
`, len(orderIDs), totals.Attempted, totals.Succeeded, totals.Skipped, totals.Failed,
		completedOrders, activeOrders, totalSpend, simTicks, tickAdvance,
		duration.Round(time.Millisecond))

	// Print type distribution with simple ASCII bar chart
	maxTypeCount := 0
	for _, count := range typeCounts {
		if count > maxTypeCount {
			maxTypeCount = count
		}
	}
	for _, orderType := range types.OrderTypes {
		count := typeCounts[orderType]
		barLength := 0
		if maxTypeCount > 0 {
			barLength = int(float64(count) / float64(maxTypeCount) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-16s: %s (%d)\n", orderType, bar, count)
	}

	fmt.Println("\nIntent Outcomes")
	fmt.Println("---------------")
	for status, count := range intentStatuses {
		fmt.Printf("%-12s: %d\n", status, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Tick performance
	min, max, mean, median, p95, p99 := stats.calculate()
	fmt.Printf("\n%-20s %10s %10s %10s %10s %10s %10s %10s\n",
		"Loop", "Ticks", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10d %10s %10s %10s %10s %10s %10s\n",
		stats.name,
		stats.totalCalls,
		min.Round(time.Millisecond),
		max.Round(time.Millisecond),
		mean.Round(time.Millisecond),
		median.Round(time.Millisecond),
		p95.Round(time.Millisecond),
		p99.Round(time.Millisecond))

	successRate := 0.0
	if totals.Attempted > 0 {
		successRate = float64(totals.Succeeded) / float64(totals.Attempted) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("attempts", totals.Attempted).
		Float64("total_spend", totalSpend).
		Dur("duration", duration).
		Msg("Simulation completed")
}
