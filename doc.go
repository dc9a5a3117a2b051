// Package xray inspects inbound test messages and reports how trustworthy
// they look to a receiving mail server.
//
// A Tester takes the envelope and raw data of a message, reconstructs the
// relay path from its Received fields, runs the sender authentication
// checks (SPF, DKIM, ARC, DMARC, reverse DNS, domain MX), scans the
// originating address against DNS blocklists and reads any SpamAssassin
// verdict left upstream. Every finding lowers a score that starts at 10:
//
//	tester := xray.NewTester(resolver, auth.SPFQuery{}, score.DefaultWeights())
//	report, err := tester.Generate(ctx, xray.Envelope{
//	    MailFrom:   "alice@example.com",
//	    Recipients: []string{"check-1234@tester.example"},
//	    Data:       raw,
//	})
//	if err != nil {
//	    // ErrNoOrigin, ErrBadDate, ErrNoRecipient: the message cannot be
//	    // reported on.
//	}
//	fmt.Println(report.Header, report.Score)
//
// The checks, the blocklist scan and the SpamAssassin reader run
// concurrently. They never fail: DNS errors and verifier problems are
// recorded in the status of the check that met them. Only a message whose
// origin, date or recipient cannot be determined makes Generate return an
// error.
package xray
