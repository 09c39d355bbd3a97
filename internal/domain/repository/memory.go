package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"surveillance_service/internal/domain/model"
)

type memDistance struct {
	outside *float64
	inside  *float64
}

type memData struct {
	groups      map[int]model.DiseaseGroup
	occurrences map[int]model.Occurrence
	experts     map[int]model.Expert
	reviews     []model.Review
	runs        map[string]model.ModelRun
	runSeq      int
	extents     map[int][]model.AdminUnitExtentClass
	distances   map[[2]int]memDistance
	countries   []int
	isoCodes    map[string]int
}

func newMemData() *memData {
	return &memData{
		groups:      map[int]model.DiseaseGroup{},
		occurrences: map[int]model.Occurrence{},
		experts:     map[int]model.Expert{},
		runs:        map[string]model.ModelRun{},
		extents:     map[int][]model.AdminUnitExtentClass{},
		distances:   map[[2]int]memDistance{},
		isoCodes:    map[string]int{},
	}
}

// clone copies every map. Entity values are copied by value; their pointer fields are only ever replaced, never written through.
func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.groups {
		c.groups[k] = v
	}
	for k, v := range d.occurrences {
		c.occurrences[k] = v
	}
	for k, v := range d.experts {
		c.experts[k] = v
	}
	c.reviews = append([]model.Review(nil), d.reviews...)
	for k, v := range d.runs {
		c.runs[k] = v
	}
	for k, v := range d.extents {
		c.extents[k] = append([]model.AdminUnitExtentClass(nil), v...)
	}
	for k, v := range d.distances {
		c.distances[k] = v
	}
	c.countries = append([]int(nil), d.countries...)
	for k, v := range d.isoCodes {
		c.isoCodes[k] = v
	}
	return c
}

// memDirty records the keys a transaction view has written.
type memDirty struct {
	groups      map[int]bool
	occurrences map[int]bool
	experts     map[int]bool
	runs        map[string]bool
	created     map[string]bool
}

func newMemDirty() *memDirty {
	return &memDirty{
		groups:      map[int]bool{},
		occurrences: map[int]bool{},
		experts:     map[int]bool{},
		runs:        map[string]bool{},
		created:     map[string]bool{},
	}
}

// MemoryStore keeps everything in process. WithinTx works on a copy and, when fn succeeds,
// writes back only the entities the transaction touched, so writes made to the store
// while the transaction was open survive the commit.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData

	// Set on transaction views only.
	parent *MemoryStore
	dirty  *memDirty
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.RLock()
	tx := &MemoryStore{data: s.data.clone(), parent: s, dirty: newMemDirty()}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *MemoryStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range tx.dirty.created {
		if _, exists := s.data.runs[name]; exists {
			return fmt.Errorf("model run %s already exists", name)
		}
	}
	for id := range tx.dirty.groups {
		s.data.groups[id] = tx.data.groups[id]
		s.markGroup(id)
	}
	for id := range tx.dirty.occurrences {
		s.data.occurrences[id] = tx.data.occurrences[id]
		s.markOccurrence(id)
	}
	for id := range tx.dirty.experts {
		s.data.experts[id] = tx.data.experts[id]
		s.markExpert(id)
	}
	for name := range tx.dirty.runs {
		s.data.runs[name] = tx.data.runs[name]
		s.markRun(name, tx.dirty.created[name])
	}
	return nil
}

func (s *MemoryStore) markGroup(id int) {
	if s.dirty != nil {
		s.dirty.groups[id] = true
	}
}

func (s *MemoryStore) markOccurrence(id int) {
	if s.dirty != nil {
		s.dirty.occurrences[id] = true
	}
}

func (s *MemoryStore) markExpert(id int) {
	if s.dirty != nil {
		s.dirty.experts[id] = true
	}
}

func (s *MemoryStore) markRun(name string, created bool) {
	if s.dirty == nil {
		return
	}
	s.dirty.runs[name] = true
	if created {
		s.dirty.created[name] = true
	}
}

// nextRunID draws from the root store's sequence so ids stay unique across transactions.
// A rolled back transaction leaves a gap.
func (s *MemoryStore) nextRunID() int {
	if s.parent != nil {
		return s.parent.nextRunID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.runSeq++
	return s.data.runSeq
}

// Seeding helpers used by tests and the development server.

func (s *MemoryStore) PutDiseaseGroup(g model.DiseaseGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.groups[g.ID] = g
}

func (s *MemoryStore) PutOccurrences(occurrences ...model.Occurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range occurrences {
		s.data.occurrences[o.ID] = o
	}
}

func (s *MemoryStore) PutExperts(experts ...model.Expert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range experts {
		s.data.experts[e.ID] = e
	}
}

func (s *MemoryStore) PutReviews(reviews ...model.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.reviews = append(s.data.reviews, reviews...)
}

func (s *MemoryStore) PutExtentClasses(diseaseGroupID int, classes ...model.AdminUnitExtentClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.extents[diseaseGroupID] = append([]model.AdminUnitExtentClass(nil), classes...)
}

func (s *MemoryStore) PutDistances(diseaseGroupID, locationID int, outside, inside *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.distances[[2]int{diseaseGroupID, locationID}] = memDistance{outside: outside, inside: inside}
}

func (s *MemoryStore) PutCountry(gaulCode int, isoCode string, forMinDataSpread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isoCode != "" {
		s.data.isoCodes[strings.ToUpper(isoCode)] = gaulCode
	}
	if forMinDataSpread {
		s.data.countries = append(s.data.countries, gaulCode)
	}
}

func (s *MemoryStore) GetDiseaseGroup(_ context.Context, id int) (model.DiseaseGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.data.groups[id]
	if !ok {
		return model.DiseaseGroup{}, fmt.Errorf("disease group %d: %w", id, model.ErrNotFound)
	}
	return g, nil
}

func (s *MemoryStore) ListDiseaseGroups(_ context.Context) ([]model.DiseaseGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DiseaseGroup, 0, len(s.data.groups))
	for _, g := range s.data.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveDiseaseGroup(_ context.Context, g model.DiseaseGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.groups[g.ID]; !ok {
		return fmt.Errorf("disease group %d: %w", g.ID, model.ErrNotFound)
	}
	s.data.groups[g.ID] = g
	s.markGroup(g.ID)
	return nil
}

func (s *MemoryStore) GetOccurrence(_ context.Context, id int) (model.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.occurrences[id]
	if !ok {
		return model.Occurrence{}, fmt.Errorf("occurrence %d: %w", id, model.ErrNotFound)
	}
	return o, nil
}

func (s *MemoryStore) ListOccurrences(_ context.Context, filter OccurrenceFilter) ([]model.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Occurrence
	for _, o := range s.data.occurrences {
		if matchOccurrence(filter, o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountOccurrences(ctx context.Context, filter OccurrenceFilter) (int, error) {
	occurrences, err := s.ListOccurrences(ctx, filter)
	return len(occurrences), err
}

func (s *MemoryStore) SaveOccurrences(_ context.Context, occurrences ...model.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range occurrences {
		if _, ok := s.data.occurrences[o.ID]; !ok {
			return fmt.Errorf("occurrence %d: %w", o.ID, model.ErrNotFound)
		}
		s.data.occurrences[o.ID] = o
		s.markOccurrence(o.ID)
	}
	return nil
}

func (s *MemoryStore) ListExperts(_ context.Context) ([]model.Expert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Expert, 0, len(s.data.experts))
	for _, e := range s.data.experts {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveExpertWeightings(_ context.Context, weightings map[int]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range weightings {
		e, ok := s.data.experts[id]
		if !ok {
			return fmt.Errorf("expert %d: %w", id, model.ErrNotFound)
		}
		e.Weighting = w
		s.data.experts[id] = e
		s.markExpert(id)
	}
	return nil
}

func (s *MemoryStore) ListReviews(_ context.Context, filter ReviewFilter) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[int]bool, len(filter.OccurrenceIDs))
	for _, id := range filter.OccurrenceIDs {
		ids[id] = true
	}
	var out []model.Review
	for _, r := range s.data.reviews {
		weighting := model.DefaultExpertWeighting
		if e, ok := s.data.experts[r.ExpertID]; ok {
			weighting = e.Weighting
		}
		if filter.DiseaseGroupID != nil && r.DiseaseGroupID != *filter.DiseaseGroupID {
			continue
		}
		if len(ids) > 0 && !ids[r.OccurrenceID] {
			continue
		}
		if filter.SubmittedAfter != nil && !r.CreatedDate.After(*filter.SubmittedAfter) {
			continue
		}
		if filter.MinExpertWeighting != nil && weighting < *filter.MinExpertWeighting {
			continue
		}
		r.ExpertWeighting = weighting
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurrenceID != out[j].OccurrenceID {
			return out[i].OccurrenceID < out[j].OccurrenceID
		}
		return out[i].ExpertID < out[j].ExpertID
	})
	return out, nil
}

func (s *MemoryStore) CreateModelRun(_ context.Context, run model.ModelRun) (model.ModelRun, error) {
	id := s.nextRunID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.runs[run.Name]; exists {
		return model.ModelRun{}, fmt.Errorf("model run %s already exists", run.Name)
	}
	run.ID = id
	s.data.runs[run.Name] = run
	s.markRun(run.Name, true)
	return run, nil
}

func (s *MemoryStore) SaveModelRun(_ context.Context, run model.ModelRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.runs[run.Name]; !ok {
		return fmt.Errorf("%s: %w", run.Name, model.ErrModelRunNotFound)
	}
	s.data.runs[run.Name] = run
	s.markRun(run.Name, false)
	return nil
}

func (s *MemoryStore) GetModelRunByName(_ context.Context, name string) (model.ModelRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.data.runs[name]
	if !ok {
		return model.ModelRun{}, fmt.Errorf("%s: %w", name, model.ErrModelRunNotFound)
	}
	return run, nil
}

// ModelRuns lists every run of a disease group in creation order.
func (s *MemoryStore) ModelRuns(diseaseGroupID int) []model.ModelRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ModelRun
	for _, r := range s.data.runs {
		if r.DiseaseGroupID == diseaseGroupID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) LatestCompletedModelRun(_ context.Context, diseaseGroupID int) (*model.ModelRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.ModelRun
	for _, r := range s.data.runs {
		if r.DiseaseGroupID != diseaseGroupID || r.Status != model.ModelRunCompleted {
			continue
		}
		if latest == nil || laterResponse(r, *latest) {
			run := r
			latest = &run
		}
	}
	return latest, nil
}

func laterResponse(a, b model.ModelRun) bool {
	switch {
	case a.ResponseDate == nil && b.ResponseDate == nil:
		return a.ID > b.ID
	case a.ResponseDate == nil:
		return false
	case b.ResponseDate == nil:
		return true
	case a.ResponseDate.Equal(*b.ResponseDate):
		return a.ID > b.ID
	}
	return a.ResponseDate.After(*b.ResponseDate)
}

func (s *MemoryStore) HasBatchingEverCompleted(_ context.Context, diseaseGroupID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.runs {
		if r.DiseaseGroupID == diseaseGroupID && r.BatchingCompletedDate != nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ExtentClasses(_ context.Context, diseaseGroupID int) ([]model.AdminUnitExtentClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AdminUnitExtentClass(nil), s.data.extents[diseaseGroupID]...), nil
}

func (s *MemoryStore) CountriesOfInterest(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.data.countries...), nil
}

func (s *MemoryStore) CountryGaulCodeByISO(_ context.Context, isoCode string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.data.isoCodes[strings.ToUpper(isoCode)]
	if !ok {
		return nil, nil
	}
	return &code, nil
}

// ExtentClassesForLocation matches on the stored admin unit code only; there is no geometry in memory.
func (s *MemoryStore) ExtentClassesForLocation(_ context.Context, group model.DiseaseGroup, loc model.Location) ([]model.ExtentClass, error) {
	code := loc.AdminUnitGaulCode(group.IsGlobal)
	if code == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ExtentClass
	for _, e := range s.data.extents[group.ID] {
		if e.GaulCode == *code {
			out = append(out, e.Class)
		}
	}
	return out, nil
}

func (s *MemoryStore) DistanceOutsideExtent(_ context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.distances[[2]int{group.ID, loc.ID}].outside, nil
}

func (s *MemoryStore) DistanceInsideExtent(_ context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.distances[[2]int{group.ID, loc.ID}].inside, nil
}

func matchOccurrence(f OccurrenceFilter, o model.Occurrence) bool {
	if f.DiseaseGroupID != 0 && o.DiseaseGroupID != f.DiseaseGroupID {
		return false
	}
	if len(f.IDs) > 0 && !containsInt(f.IDs, o.ID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
		return false
	}
	if f.GoldStandard != nil && o.IsGoldStandard != *f.GoldStandard {
		return false
	}
	if f.FinalWeightingMissing && o.FinalWeighting != nil {
		return false
	}
	if f.FinalWeightingAbove != nil && (o.FinalWeighting == nil || *o.FinalWeighting <= *f.FinalWeightingAbove) {
		return false
	}
	if f.ExcludeBias && o.BiasDiseaseGroupID != nil {
		return false
	}
	if f.OccurrenceDateFrom != nil && o.OccurrenceDate.Before(*f.OccurrenceDateFrom) {
		return false
	}
	if f.OccurrenceDateTo != nil && o.OccurrenceDate.After(*f.OccurrenceDateTo) {
		return false
	}
	if f.OccurrenceDateAfter != nil && !o.OccurrenceDate.After(*f.OccurrenceDateAfter) {
		return false
	}
	if f.CreatedAfter != nil && !o.CreatedDate.After(*f.CreatedAfter) {
		return false
	}
	if f.RequireTrainingFeatures && (o.EnvironmentalSuitability == nil || o.DistanceFromExtent == nil || o.ExpertWeighting == nil) {
		return false
	}
	return true
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsStatus(values []model.OccurrenceStatus, v model.OccurrenceStatus) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
