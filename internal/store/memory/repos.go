package memory

import (
	"context"
	"time"

	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/job"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/domain/payment"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

type consentRepo struct{ v view }

func (r consentRepo) Insert(_ context.Context, c consent.Consent) error {
	return r.v.write(func(s *state) error {
		id := c.Header().ConsentID
		if _, ok := s.consents[id]; ok {
			return repositories.ErrDuplicate
		}
		s.consents[id] = consent.Clone(c)
		return nil
	})
}

func (r consentRepo) Get(_ context.Context, id string) (consent.Consent, error) {
	var out consent.Consent
	r.v.read(func(s *state) {
		if c, ok := s.consents[id]; ok {
			out = consent.Clone(c)
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r consentRepo) Update(_ context.Context, c consent.Consent) error {
	return r.v.write(func(s *state) error {
		h := c.Header()
		stored, ok := s.consents[h.ConsentID]
		if !ok {
			return repositories.ErrNotFound
		}
		if stored.Header().Version != h.Version {
			return repositories.ErrVersionConflict
		}
		h.Version++
		s.consents[h.ConsentID] = consent.Clone(c)
		return nil
	})
}

func (r consentRepo) List(_ context.Context, f repositories.ConsentFilter, page pagination.Request) ([]consent.Consent, int, error) {
	var matched []consent.Consent
	r.v.read(func(s *state) {
		for _, c := range s.consents {
			if matchConsent(c, f) {
				matched = append(matched, consent.Clone(c))
			}
		}
	})
	items, total := window(matched,
		func(c consent.Consent) time.Time { return c.Header().CreationDateTime },
		func(c consent.Consent) string { return c.Header().ConsentID },
		page)
	return items, total, nil
}

func matchConsent(c consent.Consent, f repositories.ConsentFilter) bool {
	h := c.Header()
	if f.Type != "" && c.Type() != f.Type {
		return false
	}
	if f.PartnershipID != "" && h.PartnershipID != f.PartnershipID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if h.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return h.HasTags(f.Tags)
}

type authRequestRepo struct{ v view }

func (r authRequestRepo) Put(_ context.Context, req *consent.AuthorisationRequest) error {
	cp := *req
	return r.v.write(func(s *state) error {
		s.authRequests[req.ConsentID] = &cp
		return nil
	})
}

func (r authRequestRepo) Take(_ context.Context, consentID string) (*consent.AuthorisationRequest, error) {
	var out *consent.AuthorisationRequest
	err := r.v.write(func(s *state) error {
		req, ok := s.authRequests[consentID]
		if !ok {
			return repositories.ErrNotFound
		}
		delete(s.authRequests, consentID)
		cp := *req
		out = &cp
		return nil
	})
	return out, err
}

func (r authRequestRepo) Delete(_ context.Context, consentID string) error {
	return r.v.write(func(s *state) error {
		delete(s.authRequests, consentID)
		return nil
	})
}

type grantRepo struct{ v view }

func (r grantRepo) Put(_ context.Context, g *repositories.SealedGrant) error {
	cp := *g
	return r.v.write(func(s *state) error {
		s.grants[g.ConsentID] = &cp
		return nil
	})
}

func (r grantRepo) Get(_ context.Context, consentID string) (*repositories.SealedGrant, error) {
	var out *repositories.SealedGrant
	r.v.read(func(s *state) {
		if g, ok := s.grants[consentID]; ok {
			cp := *g
			out = &cp
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r grantRepo) Delete(_ context.Context, consentID string) error {
	return r.v.write(func(s *state) error {
		delete(s.grants, consentID)
		return nil
	})
}

type paymentRepo struct{ v view }

func (r paymentRepo) Insert(_ context.Context, p *payment.DomesticPayment) error {
	return r.v.write(func(s *state) error {
		if _, ok := s.payments[p.DomesticPaymentID]; ok {
			return repositories.ErrDuplicate
		}
		if _, ok := s.paymentByConsent[p.ConsentID]; ok {
			return repositories.ErrDuplicate
		}
		s.payments[p.DomesticPaymentID] = p.Clone()
		s.paymentByConsent[p.ConsentID] = p.DomesticPaymentID
		return nil
	})
}

func (r paymentRepo) Get(_ context.Context, id string) (*payment.DomesticPayment, error) {
	var out *payment.DomesticPayment
	r.v.read(func(s *state) {
		if p, ok := s.payments[id]; ok {
			out = p.Clone()
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r paymentRepo) GetByConsent(ctx context.Context, consentID string) (*payment.DomesticPayment, error) {
	var id string
	r.v.read(func(s *state) { id = s.paymentByConsent[consentID] })
	if id == "" {
		return nil, repositories.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r paymentRepo) Update(_ context.Context, p *payment.DomesticPayment) error {
	return r.v.write(func(s *state) error {
		stored, ok := s.payments[p.DomesticPaymentID]
		if !ok {
			return repositories.ErrNotFound
		}
		if stored.Version != p.Version {
			return repositories.ErrVersionConflict
		}
		p.Version++
		s.payments[p.DomesticPaymentID] = p.Clone()
		return nil
	})
}

func (r paymentRepo) List(_ context.Context, f repositories.PaymentFilter, page pagination.Request) ([]*payment.DomesticPayment, int, error) {
	var matched []*payment.DomesticPayment
	r.v.read(func(s *state) {
		for _, p := range s.payments {
			if f.PartnershipID != "" && p.PartnershipID != f.PartnershipID {
				continue
			}
			if f.ConsentID != "" && p.ConsentID != f.ConsentID {
				continue
			}
			if f.Status != "" && p.Status != f.Status {
				continue
			}
			matched = append(matched, p.Clone())
		}
	})
	items, total := window(matched,
		func(p *payment.DomesticPayment) time.Time { return p.CreationDateTime },
		func(p *payment.DomesticPayment) string { return p.DomesticPaymentID },
		page)
	return items, total, nil
}

func (r paymentRepo) ListUnsettled(_ context.Context, limit int) ([]*payment.DomesticPayment, error) {
	var matched []*payment.DomesticPayment
	r.v.read(func(s *state) {
		for _, p := range s.payments {
			if !p.Status.Settled() {
				matched = append(matched, p.Clone())
			}
		}
	})
	items, _ := window(matched,
		func(p *payment.DomesticPayment) time.Time { return p.CreationDateTime },
		func(p *payment.DomesticPayment) string { return p.DomesticPaymentID },
		pagination.Request{Page: 1, PageSize: limit})
	return items, nil
}

type fundsRepo struct{ v view }

func (r fundsRepo) Insert(_ context.Context, res *funds.Result) error {
	cp := *res
	return r.v.write(func(s *state) error {
		if _, ok := s.funds[res.FundsConfirmationID]; ok {
			return repositories.ErrDuplicate
		}
		s.funds[res.FundsConfirmationID] = &cp
		return nil
	})
}

func (r fundsRepo) Get(_ context.Context, id string) (*funds.Result, error) {
	var out *funds.Result
	r.v.read(func(s *state) {
		if res, ok := s.funds[id]; ok {
			cp := *res
			out = &cp
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r fundsRepo) List(_ context.Context, consentID string, page pagination.Request) ([]*funds.Result, int, error) {
	var matched []*funds.Result
	r.v.read(func(s *state) {
		for _, res := range s.funds {
			if consentID == "" || res.ConsentID == consentID {
				cp := *res
				matched = append(matched, &cp)
			}
		}
	})
	items, total := window(matched,
		func(r *funds.Result) time.Time { return r.CreationDateTime },
		func(r *funds.Result) string { return r.FundsConfirmationID },
		page)
	return items, total, nil
}

type partnershipRepo struct{ v view }

func (r partnershipRepo) Insert(_ context.Context, p *partnership.Partnership) error {
	cp := clonePartnership(p)
	return r.v.write(func(s *state) error {
		if _, ok := s.partnerships[p.PartnershipID]; ok {
			return repositories.ErrDuplicate
		}
		s.partnerships[p.PartnershipID] = cp
		return nil
	})
}

func (r partnershipRepo) Get(_ context.Context, id string) (*partnership.Partnership, error) {
	var out *partnership.Partnership
	r.v.read(func(s *state) {
		if p, ok := s.partnerships[id]; ok {
			out = clonePartnership(p)
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r partnershipRepo) List(_ context.Context, m partnership.Module, page pagination.Request) ([]*partnership.Partnership, int, error) {
	var matched []*partnership.Partnership
	r.v.read(func(s *state) {
		for _, p := range s.partnerships {
			if m == "" || p.Supports(m) {
				matched = append(matched, clonePartnership(p))
			}
		}
	})
	items, total := window(matched,
		func(p *partnership.Partnership) time.Time { return p.CreationDateTime },
		func(p *partnership.Partnership) string { return p.PartnershipID },
		page)
	return items, total, nil
}

func clonePartnership(p *partnership.Partnership) *partnership.Partnership {
	cp := *p
	cp.Modules = append([]partnership.Module(nil), p.Modules...)
	return &cp
}

type scheduleRepo struct{ v view }

func (r scheduleRepo) Insert(_ context.Context, sc *job.Schedule) error {
	cp := sc.Clone()
	return r.v.write(func(s *state) error {
		if _, ok := s.schedules[sc.ScheduleID]; ok {
			return repositories.ErrDuplicate
		}
		s.schedules[sc.ScheduleID] = cp
		return nil
	})
}

func (r scheduleRepo) Get(_ context.Context, id string) (*job.Schedule, error) {
	var out *job.Schedule
	r.v.read(func(s *state) {
		if sc, ok := s.schedules[id]; ok {
			out = sc.Clone()
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r scheduleRepo) Update(_ context.Context, sc *job.Schedule) error {
	return r.v.write(func(s *state) error {
		stored, ok := s.schedules[sc.ScheduleID]
		if !ok {
			return repositories.ErrNotFound
		}
		if stored.Version != sc.Version {
			return repositories.ErrVersionConflict
		}
		sc.Version++
		s.schedules[sc.ScheduleID] = sc.Clone()
		return nil
	})
}

func (r scheduleRepo) Delete(_ context.Context, id string) error {
	return r.v.write(func(s *state) error {
		if _, ok := s.schedules[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(s.schedules, id)
		return nil
	})
}

func (r scheduleRepo) List(_ context.Context, page pagination.Request) ([]*job.Schedule, int, error) {
	var all []*job.Schedule
	r.v.read(func(s *state) {
		for _, sc := range s.schedules {
			all = append(all, sc.Clone())
		}
	})
	items, total := window(all,
		func(s *job.Schedule) time.Time { return s.CreationDateTime },
		func(s *job.Schedule) string { return s.ScheduleID },
		page)
	return items, total, nil
}

func (r scheduleRepo) ListDue(_ context.Context, now time.Time) ([]*job.Schedule, error) {
	var due []*job.Schedule
	r.v.read(func(s *state) {
		for _, sc := range s.schedules {
			if sc.Due(now) {
				due = append(due, sc.Clone())
			}
		}
	})
	items, _ := window(due,
		func(s *job.Schedule) time.Time { return *s.NextExecutionDateTime },
		func(s *job.Schedule) string { return s.ScheduleID },
		pagination.Request{Page: 1, PageSize: len(due) + 1})
	return items, nil
}

type executionRepo struct{ v view }

func (r executionRepo) Insert(_ context.Context, e *job.Execution) error {
	cp := e.Clone()
	return r.v.write(func(s *state) error {
		if _, ok := s.executions[e.ExecutionID]; ok {
			return repositories.ErrDuplicate
		}
		if e.ScheduleID != "" && e.Result == job.ResultInProgress {
			for _, other := range s.executions {
				if other.ScheduleID == e.ScheduleID && other.Result == job.ResultInProgress {
					return repositories.ErrDuplicate
				}
			}
		}
		s.executions[e.ExecutionID] = cp
		return nil
	})
}

func (r executionRepo) Get(_ context.Context, id string) (*job.Execution, error) {
	var out *job.Execution
	r.v.read(func(s *state) {
		if e, ok := s.executions[id]; ok {
			out = e.Clone()
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r executionRepo) Update(_ context.Context, e *job.Execution) error {
	return r.v.write(func(s *state) error {
		stored, ok := s.executions[e.ExecutionID]
		if !ok {
			return repositories.ErrNotFound
		}
		if stored.Version != e.Version {
			return repositories.ErrVersionConflict
		}
		e.Version++
		s.executions[e.ExecutionID] = e.Clone()
		return nil
	})
}

func (r executionRepo) InProgress(_ context.Context, scheduleID string) (*job.Execution, error) {
	var out *job.Execution
	r.v.read(func(s *state) {
		for _, e := range s.executions {
			if e.ScheduleID == scheduleID && e.Result == job.ResultInProgress {
				out = e.Clone()
				return
			}
		}
	})
	if out == nil {
		return nil, repositories.ErrNotFound
	}
	return out, nil
}

func (r executionRepo) List(_ context.Context, f repositories.ExecutionFilter, page pagination.Request) ([]*job.Execution, int, error) {
	var matched []*job.Execution
	r.v.read(func(s *state) {
		for _, e := range s.executions {
			if f.ScheduleID != "" && e.ScheduleID != f.ScheduleID {
				continue
			}
			if f.JobID != "" && e.JobID != f.JobID {
				continue
			}
			matched = append(matched, e.Clone())
		}
	})
	items, total := window(matched,
		func(e *job.Execution) time.Time { return e.StartDateTime },
		func(e *job.Execution) string { return e.ExecutionID },
		page)
	return items, total, nil
}
