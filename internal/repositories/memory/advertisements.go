package memory

import (
	"context"

	domain "github.com/maherkar/api/internal/domain"
)

type advertisementRepository struct{ s *Store }

func (r advertisementRepository) FindOwnership(ctx context.Context, advertisementID string) (domain.AdvertisementOwnership, error) {
	var ownership domain.AdvertisementOwnership
	err := r.s.read(ctx, func(data *state) error {
		ad, ok := data.advertisements[advertisementID]
		if !ok {
			return notFound("advertisements.ownership", "advertisement %s not found", advertisementID)
		}
		ownership.Advertisement = ad
		switch ad.AdType {
		case domain.AdTypeJob:
			for _, job := range data.jobs {
				if job.AdvertisementID == ad.ID {
					ownership.EmployerID = job.EmployerID
					return nil
				}
			}
		case domain.AdTypeResume:
			for _, resume := range data.resumeAds {
				if resume.AdvertisementID == ad.ID {
					ownership.JobSeekerID = resume.JobSeekerID
					return nil
				}
			}
		}
		return notFound("advertisements.ownership", "advertisement %s has no posting", ad.ID)
	})
	return ownership, err
}

func (r advertisementRepository) FindSubscription(ctx context.Context, subscriptionID string) (domain.AdvertisementSubscription, error) {
	var sub domain.AdvertisementSubscription
	err := r.s.read(ctx, func(data *state) error {
		stored, ok := data.subscriptions[subscriptionID]
		if !ok {
			return notFound("subscriptions.find", "subscription %s not found", subscriptionID)
		}
		sub = stored
		return nil
	})
	return sub, err
}

func (r advertisementRepository) CreateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error {
	return r.s.write(ctx, func(data *state) error {
		if _, exists := data.subscriptions[subscription.ID]; exists {
			return conflict("subscriptions.create", "subscription %s already exists", subscription.ID)
		}
		data.subscriptions[subscription.ID] = subscription
		return nil
	})
}

func (r advertisementRepository) UpdateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error {
	return r.s.write(ctx, func(data *state) error {
		stored, ok := data.subscriptions[subscription.ID]
		if !ok {
			return notFound("subscriptions.update", "subscription %s not found", subscription.ID)
		}
		subscription.CreatedAt = stored.CreatedAt
		data.subscriptions[subscription.ID] = subscription
		return nil
	})
}

func (r advertisementRepository) CreateJobAdvertisement(ctx context.Context, ad domain.Advertisement, job domain.JobAdvertisement) error {
	return r.s.write(ctx, func(data *state) error {
		if err := checkNewAdvertisement(data, ad); err != nil {
			return err
		}
		if _, exists := data.jobs[job.ID]; exists {
			return conflict("advertisements.createJob", "job advertisement %s already exists", job.ID)
		}
		data.advertisements[ad.ID] = ad
		data.jobs[job.ID] = job
		return nil
	})
}

func (r advertisementRepository) CreateResumeAdvertisement(ctx context.Context, ad domain.Advertisement, resume domain.ResumeAdvertisement) error {
	return r.s.write(ctx, func(data *state) error {
		if err := checkNewAdvertisement(data, ad); err != nil {
			return err
		}
		if _, exists := data.resumeAds[resume.ID]; exists {
			return conflict("advertisements.createResume", "resume advertisement %s already exists", resume.ID)
		}
		data.advertisements[ad.ID] = ad
		data.resumeAds[resume.ID] = resume
		return nil
	})
}

func checkNewAdvertisement(data *state, ad domain.Advertisement) error {
	if _, exists := data.advertisements[ad.ID]; exists {
		return conflict("advertisements.create", "advertisement %s already exists", ad.ID)
	}
	if _, ok := data.subscriptions[ad.SubscriptionID]; !ok {
		return notFound("advertisements.create", "subscription %s not found", ad.SubscriptionID)
	}
	for _, existing := range data.advertisements {
		if existing.SubscriptionID == ad.SubscriptionID {
			return conflict("advertisements.create", "subscription %s already attached", ad.SubscriptionID)
		}
	}
	return nil
}
