package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/orders"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

const usage = `usage: ordersctl [flags] <command> [args]

commands:
  token <user-id> <role> [name]        mint a bearer token signed with JWT_SECRET
  list [status]                        list orders visible to the token
  show <order-id>                      order details, delivery and payment approvals
  approve <order-id> [notes]           approve submitted payment
  reject <order-id> [notes]            reject submitted payment
  status <order-id> <order-status>     move an order to the next status
  delivery <delivery-id> <status> [location]
  track <tracking-id>                  public delivery tracking

flags:
`

func main() {
	var (
		baseURL = flag.String("url", getEnv("ORDERS_URL", "http://localhost:8081"), "order service base URL")
		token   = flag.String("token", os.Getenv("ORDERS_TOKEN"), "bearer token")
		ttl     = flag.Duration("ttl", 24*time.Hour, "lifetime of tokens minted by the token command")
		page    = flag.Int("page", 1, "page for list")
		limit   = flag.Int("limit", 20, "page size for list")
		verbose = flag.Bool("v", false, "log HTTP exchanges")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli := &cli{
		client: orders.NewClient(*baseURL, *token, logger),
		out:    os.Stdout,
		page:   *page,
		limit:  *limit,
		ttl:    *ttl,
	}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var apiErr *orders.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

type cli struct {
	client *orders.Client
	out    io.Writer
	page   int
	limit  int
	ttl    time.Duration
}

var errUsage = errors.New("wrong arguments, run ordersctl -h")

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "token":
		if len(args) < 2 {
			return errUsage
		}
		return c.mintToken(args[0], args[1], strings.Join(args[2:], " "))
	case "list":
		q := models.ListOrdersQuery{Page: c.page, Limit: c.limit}
		if len(args) > 0 {
			status, err := models.ParseOrderStatus(strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			q.Status = &status
		}
		return c.list(ctx, q)
	case "show":
		if len(args) != 1 {
			return errUsage
		}
		return c.show(ctx, args[0])
	case "approve", "reject":
		if len(args) < 1 {
			return errUsage
		}
		action := models.ActionApprove
		if cmd == "reject" {
			action = models.ActionReject
		}
		return c.review(ctx, args[0], models.ReviewPaymentRequest{Action: action, Notes: strings.Join(args[1:], " ")})
	case "status":
		if len(args) != 2 {
			return errUsage
		}
		status, err := models.ParseOrderStatus(strings.ToUpper(args[1]))
		if err != nil {
			return err
		}
		order, err := c.client.UpdateOrderStatus(ctx, args[0], models.UpdateOrderStatusRequest{Status: status})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "order %s is now %s\n", order.ShortID(), order.Status)
		return nil
	case "delivery":
		if len(args) < 2 {
			return errUsage
		}
		status, err := models.ParseDeliveryStatus(strings.ToLower(args[1]))
		if err != nil {
			return err
		}
		update, err := c.client.UpdateDeliveryStatus(ctx, args[0], models.UpdateDeliveryStatusRequest{
			Status:   status,
			Location: strings.Join(args[2:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "delivery %s is %s, order %s is %s\n",
			update.Delivery.TrackingID, update.Delivery.Status, update.Order.ShortID(), update.Order.Status)
		return nil
	case "track":
		if len(args) != 1 {
			return errUsage
		}
		tracking, err := c.client.TrackDelivery(ctx, args[0])
		if err != nil {
			return err
		}
		c.printTracking(tracking.Delivery, tracking.Events)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (c *cli) mintToken(userID, role, name string) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is required to mint tokens")
	}
	r, err := models.ParseRole(strings.ToUpper(role))
	if err != nil {
		return err
	}
	token, err := auth.NewIssuer(secret, c.ttl).Issue(auth.User{ID: userID, Role: r, Name: name})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *cli) list(ctx context.Context, q models.ListOrdersQuery) error {
	list, err := c.client.ListOrders(ctx, q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tCUSTOMER\tITEMS\tTOTAL\tSTATUS\tPAYMENT\tCREATED")
	for _, o := range list.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s/%s\t%s\n",
			o.ShortID(), o.CustomerID, len(o.Items), o.Total.StringFixed(2), o.Status,
			o.PaymentType, o.PaymentStatus, o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := list.Pagination
	fmt.Fprintf(c.out, "\npage %d of %d, %d orders\n", p.Page, max(p.Pages, 1), p.Total)
	return nil
}

func (c *cli) show(ctx context.Context, id string) error {
	order, err := c.client.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	approvals, err := c.client.ListApprovals(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Order\t%s\n", order.ID)
	fmt.Fprintf(tw, "Customer\t%s\n", order.CustomerID)
	fmt.Fprintf(tw, "Status\t%s\n", order.Status)
	fmt.Fprintf(tw, "Payment\t%s, %s\n", order.PaymentType, order.PaymentStatus)
	if order.PaymentReference != "" {
		fmt.Fprintf(tw, "M-Pesa\t%s from %s\n", order.PaymentReference, order.PaymentPhone)
	}
	fmt.Fprintf(tw, "Total\t%s\n", order.Total.StringFixed(2))
	if d := order.Delivery; d != nil {
		fmt.Fprintf(tw, "Delivery\t%s (%s), due %s\n", d.TrackingID, d.Status, d.EstimatedDelivery.Local().Format("2006-01-02"))
		fmt.Fprintf(tw, "Address\t%s\n", d.Address)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	tw = tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tSELLER\tQTY\tPRICE\tSUBTOTAL")
	for _, item := range order.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			item.ProductName, item.SellerID, item.Quantity, item.Price.StringFixed(2), item.Subtotal().StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(approvals) == 0 {
		return nil
	}
	fmt.Fprintln(c.out)
	tw = tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REVIEWED\tBY\tACTION\tNOTES")
	for _, a := range approvals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.CreatedAt.Local().Format("2006-01-02 15:04"), a.ApproverID, a.Action, a.Notes)
	}
	return tw.Flush()
}

func (c *cli) review(ctx context.Context, id string, req models.ReviewPaymentRequest) error {
	review, err := c.client.ReviewPayment(ctx, id, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "order %s: payment %s, order %s\n",
		review.Order.ShortID(), review.Order.PaymentStatus, review.Order.Status)
	return nil
}

func (c *cli) printTracking(d *models.Delivery, events []models.DeliveryEvent) {
	fmt.Fprintf(c.out, "%s  %s  due %s\n\n", d.TrackingID, d.Status, d.EstimatedDelivery.Local().Format("2006-01-02"))
	tw := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tLOCATION")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Status, e.Location)
	}
	tw.Flush()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
