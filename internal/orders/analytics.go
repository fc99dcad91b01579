package orders

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
)

const unknownCategory = "Unknown"

// DailySales is revenue grouped by UTC calendar day.
type DailySales struct {
	Date    string  `json:"date"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// CategoryRevenue is line revenue grouped by product category.
type CategoryRevenue struct {
	Category string  `json:"name"`
	Revenue  float64 `json:"value"`
}

// MonthlyRevenue is revenue grouped by calendar month, labelled like "Jan 2026".
type MonthlyRevenue struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
}

// Summary holds the dashboard headline figures.
type Summary struct {
	TotalRevenue   float64 `json:"totalRevenue"`
	TodayRevenue   float64 `json:"todayRevenue"`
	MonthRevenue   float64 `json:"monthRevenue"`
	PaidOrders     int     `json:"paidOrders"`
	TotalProducts  int     `json:"totalProducts"`
	TotalCustomers int     `json:"totalCustomers"`
}

// Report is the admin analytics payload. Only PAID orders contribute.
type Report struct {
	Summary           Summary           `json:"summary"`
	SalesByDate       []DailySales      `json:"salesByDate"`
	RevenueByCategory []CategoryRevenue `json:"revenueByCategory"`
	MonthlyRevenue    []MonthlyRevenue  `json:"monthlyRevenue"`
}

// CustomerStats is a user profile with figures recomputed from paid orders.
type CustomerStats struct {
	domain.User
	CalculatedOrders int     `json:"calculatedOrders"`
	CalculatedSpent  float64 `json:"calculatedTotalSpent"`
}

// Analytics builds the admin report from the current orders, products and users.
// Fetch failures degrade to empty inputs.
func (s *Service) Analytics(ctx context.Context) Report {
	orders := s.list(ctx, nil)

	var products []domain.Product
	if err := s.docs.ListDocuments(ctx, documents.CollectionProducts, nil, &products); err != nil {
		s.logger(ctx, "orders.analytics.products_failed", map[string]any{"error": err.Error()})
		products = nil
	}
	var users []domain.User
	if err := s.docs.ListDocuments(ctx, documents.CollectionUsers, nil, &users); err != nil {
		s.logger(ctx, "orders.analytics.users_failed", map[string]any{"error": err.Error()})
		users = nil
	}

	report := BuildReport(orders, products, s.now())
	report.Summary.TotalProducts = len(products)
	report.Summary.TotalCustomers = len(users)
	return report
}

// BuildReport aggregates paid orders. now decides "today" and "this month" in UTC.
func BuildReport(orders []domain.Order, products []domain.Product, now time.Time) Report {
	categories := make(map[string]string, len(products))
	for _, p := range products {
		categories[p.ID] = p.Category
	}

	now = now.UTC()
	today := now.Truncate(24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var (
		total, todayTotal, monthTotal decimal.Decimal
		paid                          int
		byDate                        = map[string]*dailyAcc{}
		byCategory                    = map[string]decimal.Decimal{}
		byMonth                       = map[time.Time]decimal.Decimal{}
	)

	for _, order := range orders {
		if order.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		paid++
		amount := decimal.NewFromFloat(order.TotalAmount)
		total = total.Add(amount)

		for _, line := range order.Products {
			category := categories[line.ProductID]
			if category == "" {
				category = unknownCategory
			}
			lineTotal := decimal.NewFromFloat(line.Price).Mul(decimal.NewFromInt(int64(line.Quantity)))
			byCategory[category] = byCategory[category].Add(lineTotal)
		}

		if order.CreatedAt.IsZero() || order.TotalAmount == 0 {
			continue
		}
		created := order.CreatedAt.UTC()
		if !created.Before(today) && created.Before(today.Add(24*time.Hour)) {
			todayTotal = todayTotal.Add(amount)
		}
		if !created.Before(monthStart) {
			monthTotal = monthTotal.Add(amount)
		}

		date := created.Format(time.DateOnly)
		acc, ok := byDate[date]
		if !ok {
			acc = &dailyAcc{}
			byDate[date] = acc
		}
		acc.orders++
		acc.revenue = acc.revenue.Add(amount)

		month := time.Date(created.Year(), created.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month] = byMonth[month].Add(amount)
	}

	report := Report{
		Summary: Summary{
			TotalRevenue: round2(total),
			TodayRevenue: round2(todayTotal),
			MonthRevenue: round2(monthTotal),
			PaidOrders:   paid,
		},
		SalesByDate:       make([]DailySales, 0, len(byDate)),
		RevenueByCategory: make([]CategoryRevenue, 0, len(byCategory)),
		MonthlyRevenue:    make([]MonthlyRevenue, 0, len(byMonth)),
	}

	for date, acc := range byDate {
		report.SalesByDate = append(report.SalesByDate, DailySales{Date: date, Orders: acc.orders, Revenue: round2(acc.revenue)})
	}
	slices.SortFunc(report.SalesByDate, func(a, b DailySales) int { return cmp.Compare(a.Date, b.Date) })

	for category, revenue := range byCategory {
		if !revenue.IsPositive() {
			continue
		}
		report.RevenueByCategory = append(report.RevenueByCategory, CategoryRevenue{Category: category, Revenue: round2(revenue)})
	}
	slices.SortFunc(report.RevenueByCategory, func(a, b CategoryRevenue) int {
		if c := cmp.Compare(b.Revenue, a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})

	months := make([]time.Time, 0, len(byMonth))
	for month := range byMonth {
		months = append(months, month)
	}
	slices.SortFunc(months, func(a, b time.Time) int { return a.Compare(b) })
	for _, month := range months {
		report.MonthlyRevenue = append(report.MonthlyRevenue, MonthlyRevenue{Month: month.Format("Jan 2006"), Revenue: round2(byMonth[month])})
	}
	return report
}

// Customers returns every user profile with paid-order figures recomputed.
func (s *Service) Customers(ctx context.Context) []CustomerStats {
	var users []domain.User
	if err := s.docs.ListDocuments(ctx, documents.CollectionUsers, nil, &users); err != nil {
		s.logger(ctx, "orders.customers_failed", map[string]any{"error": err.Error()})
		return []CustomerStats{}
	}
	return CustomerFigures(users, s.list(ctx, nil))
}

// CustomerFigures joins users with their paid orders.
func CustomerFigures(users []domain.User, orders []domain.Order) []CustomerStats {
	type acc struct {
		count int
		spent decimal.Decimal
	}
	byUser := map[string]*acc{}
	for _, order := range orders {
		if order.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		a, ok := byUser[order.UserID]
		if !ok {
			a = &acc{}
			byUser[order.UserID] = a
		}
		a.count++
		a.spent = a.spent.Add(decimal.NewFromFloat(order.TotalAmount))
	}

	out := make([]CustomerStats, 0, len(users))
	for _, user := range users {
		stats := CustomerStats{User: user}
		if a, ok := byUser[user.UID]; ok {
			stats.CalculatedOrders = a.count
			stats.CalculatedSpent = round2(a.spent)
		}
		out = append(out, stats)
	}
	return out
}

type dailyAcc struct {
	orders  int
	revenue decimal.Decimal
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
