// Command analyze_trades summarizes closed trades straight from the
// trade_history table: win rate, pnl by symbol, and exit-reason
// breakdown per user and strategy. Offline tool, never touches the
// venue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type closedTrade struct {
	UserID     string
	Strategy   string
	Symbol     string
	Direction  string
	PnL        float64
	ExitReason string
	ExitTime   time.Time
}

type symbolStats struct {
	Symbol   string
	Trades   int
	Wins     int
	TotalPnL float64
}

func main() {
	_ = godotenv.Load()

	days := flag.Int("days", 30, "lookback window in days")
	user := flag.String("user", "", "restrict to one user id")
	strategy := flag.String("strategy", "archer_model", "strategy bucket")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "trading"))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	trades, err := loadTrades(ctx, pool, *days, *user, *strategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("query failed")
	}
	if len(trades) == 0 {
		logger.Info().Int("days", *days).Msg("no closed trades in window")
		return
	}
	logger.Info().Int("trades", len(trades)).Int("days", *days).Msg("loaded trade history")

	printOverall(trades)
	printBySymbol(trades)
	printByExitReason(trades)
	printByUser(trades)
}

func loadTrades(ctx context.Context, pool *pgxpool.Pool, days int, user, strategy string) ([]closedTrade, error) {
	query := `
		SELECT user_id, strategy, symbol, direction, COALESCE(pnl, 0), exit_reason, exit_time
		FROM trade_history
		WHERE exit_time > NOW() - make_interval(days => $1)
		  AND strategy = $2
		  AND ($3 = '' OR user_id = $3)
		ORDER BY exit_time DESC`

	rows, err := pool.Query(ctx, query, days, strategy, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []closedTrade
	for rows.Next() {
		var t closedTrade
		if err := rows.Scan(&t.UserID, &t.Strategy, &t.Symbol, &t.Direction, &t.PnL, &t.ExitReason, &t.ExitTime); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func printOverall(trades []closedTrade) {
	var wins int
	var totalPnL float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
		totalPnL += t.PnL
	}

	fmt.Println()
	fmt.Println("OVERALL")
	fmt.Printf("  trades: %d  wins: %d  win rate: %.1f%%  total pnl: %+.2f USDT\n",
		len(trades), wins, 100*float64(wins)/float64(len(trades)), totalPnL)
}

func printBySymbol(trades []closedTrade) {
	bySymbol := make(map[string]*symbolStats)
	for _, t := range trades {
		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &symbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.Trades++
		if t.PnL > 0 {
			s.Wins++
		}
		s.TotalPnL += t.PnL
	}

	stats := make([]*symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TotalPnL > stats[j].TotalPnL })

	fmt.Println()
	fmt.Println("BY SYMBOL")
	for _, s := range stats {
		fmt.Printf("  %-12s trades: %-4d win rate: %5.1f%%  pnl: %+.2f USDT\n",
			s.Symbol, s.Trades, 100*float64(s.Wins)/float64(s.Trades), s.TotalPnL)
	}
}

func printByExitReason(trades []closedTrade) {
	counts := make(map[string]int)
	pnl := make(map[string]float64)
	for _, t := range trades {
		counts[t.ExitReason]++
		pnl[t.ExitReason] += t.PnL
	}

	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	fmt.Println()
	fmt.Println("BY EXIT REASON")
	for _, r := range reasons {
		fmt.Printf("  %-24s count: %-4d pnl: %+.2f USDT\n", r, counts[r], pnl[r])
	}
}

func printByUser(trades []closedTrade) {
	counts := make(map[string]int)
	pnl := make(map[string]float64)
	for _, t := range trades {
		counts[t.UserID]++
		pnl[t.UserID] += t.PnL
	}

	users := make([]string, 0, len(counts))
	for u := range counts {
		users = append(users, u)
	}
	sort.Strings(users)

	fmt.Println()
	fmt.Println("BY USER")
	for _, u := range users {
		fmt.Printf("  %-16s trades: %-4d pnl: %+.2f USDT\n", u, counts[u], pnl[u])
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
